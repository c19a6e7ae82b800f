package node

import (
	"errors"
	"fmt"
	"net/netip"

	"go.uber.org/zap"

	"github.com/ryandielhenn/p2pgossip/internal/telemetry"
	"github.com/ryandielhenn/p2pgossip/pkg/peer"
	"github.com/ryandielhenn/p2pgossip/pkg/wire"
)

// ErrSelfConnect is returned when a connect request resolves to this node's
// own address.
var ErrSelfConnect = errors.New("node: refusing to register self")

type Options struct {
	ID   string
	Self peer.Peer
	// LocalIPs are this host's interface addresses; a peer address on one
	// of them with our port is treated as self. Defaults to
	// peer.InterfaceAddrs().
	LocalIPs []netip.Addr
	// RequireKnownSender rejects /message from senders whose IP is not the
	// IP of some known peer.
	RequireKnownSender bool
	Logger             *zap.Logger
}

// Node serves the gossip HTTP contract on top of a shared peer registry.
type Node struct {
	id           string
	self         peer.Peer
	addr         netip.AddrPort
	local        peer.Local
	peers        *peer.Registry
	requireKnown bool
	log          *zap.Logger
}

func New(reg *peer.Registry, opts Options) *Node {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.LocalIPs == nil {
		opts.LocalIPs = peer.InterfaceAddrs()
	}
	addr := opts.Self.Addr()
	return &Node{
		id:           opts.ID,
		self:         opts.Self,
		addr:         addr,
		local:        peer.NewLocal(addr, opts.LocalIPs...),
		peers:        reg,
		requireKnown: opts.RequireKnownSender,
		log:          opts.Logger,
	}
}

func (n *Node) ID() string { return n.id }

func (n *Node) Self() peer.Peer { return n.self }

// Addr is the address this node is known under; it never appears in the
// registry.
func (n *Node) Addr() netip.AddrPort { return n.addr }

func (n *Node) Peers() *peer.Registry { return n.peers }

// IsSelf reports whether addr reaches this node.
func (n *Node) IsSelf(addr netip.AddrPort) bool { return n.local.Is(addr) }

// Handshake registers the peer described by d, observed connecting from
// observed. Registering an already known address is a successful no-op.
func (n *Node) Handshake(observed netip.Addr, d peer.Descriptor) (wire.Ack, error) {
	p, err := d.Peer()
	if err != nil {
		telemetry.HandshakesTotal.WithLabelValues("invalid").Inc()
		return wire.Ack{}, err
	}

	addr := p.ResolveFrom(observed)
	if n.IsSelf(addr) {
		telemetry.HandshakesTotal.WithLabelValues("self").Inc()
		return wire.Ack{}, fmt.Errorf("%w: %s", ErrSelfConnect, addr)
	}

	if !n.peers.Add(addr, p) {
		telemetry.HandshakesTotal.WithLabelValues(wire.StatusAlreadyConnected).Inc()
		return wire.Ack{Status: wire.StatusAlreadyConnected, Address: addr.String()}, nil
	}
	telemetry.HandshakesTotal.WithLabelValues(wire.StatusConnected).Inc()
	n.log.Info("peer connected", zap.Stringer("peer", addr), zap.Stringer("observed", observed))
	return wire.Ack{Status: wire.StatusConnected, Address: addr.String()}, nil
}

// KnownSender reports whether observed is the IP of any known peer.
func (n *Node) KnownSender(observed netip.Addr) bool {
	observed = observed.Unmap()
	for _, addr := range n.peers.Addrs() {
		if addr.Addr() == observed {
			return true
		}
	}
	return false
}
