package node

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/ryandielhenn/p2pgossip/pkg/peer"
	"github.com/ryandielhenn/p2pgossip/pkg/wire"
)

type fakeConnector struct {
	peers     map[netip.AddrPort]peer.Peer
	refuse    map[netip.AddrPort]bool
	connected []netip.AddrPort
}

func (f *fakeConnector) Descriptor(_ context.Context, addr netip.AddrPort) (peer.Peer, error) {
	p, ok := f.peers[addr]
	if !ok {
		return peer.Peer{}, errors.New("connection refused")
	}
	return p, nil
}

func (f *fakeConnector) Connect(_ context.Context, addr netip.AddrPort, _ peer.Peer) (wire.Ack, error) {
	if f.refuse[addr] {
		return wire.Ack{}, errors.New("refused")
	}
	f.connected = append(f.connected, addr)
	return wire.Ack{Status: wire.StatusConnected}, nil
}

func TestBootstrapRegistersReachableSeeds(t *testing.T) {
	n := newTestNode(false)
	good := netip.MustParseAddrPort("10.0.0.1:9001")
	refusing := netip.MustParseAddrPort("10.0.0.2:9002")
	silent := netip.MustParseAddrPort("10.0.0.3:9003")

	c := &fakeConnector{
		peers: map[netip.AddrPort]peer.Peer{
			good:     {Port: 9001},
			refusing: {Port: 9002},
		},
		refuse: map[netip.AddrPort]bool{refusing: true},
	}

	joined := n.Bootstrap(context.Background(), c, []netip.AddrPort{good, refusing, silent, n.Addr()})
	if joined != 1 {
		t.Fatalf("joined = %d, want 1", joined)
	}
	if got := n.Peers().Addrs(); len(got) != 1 || got[0] != good {
		t.Fatalf("registry = %v, want [%s]", got, good)
	}
	for _, a := range c.connected {
		if a == n.Addr() {
			t.Fatal("bootstrap dialed self")
		}
	}
}

func TestBootstrapSkipsSelfUnderOtherAddresses(t *testing.T) {
	n := newTestNode(false)
	v6 := netip.MustParseAddrPort("[::1]:8080")
	lan := netip.MustParseAddrPort("192.168.1.20:8080")
	c := &fakeConnector{
		peers: map[netip.AddrPort]peer.Peer{v6: {Port: 8080}, lan: {Port: 8080}},
	}

	if joined := n.Bootstrap(context.Background(), c, []netip.AddrPort{v6, lan}); joined != 0 {
		t.Fatalf("joined = %d, want 0", joined)
	}
	if len(c.connected) != 0 || n.Peers().Len() != 0 {
		t.Fatalf("connected %v, registry %v", c.connected, n.Peers().Addrs())
	}
}
