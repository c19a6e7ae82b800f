package node

import (
	"context"
	"net/netip"

	"go.uber.org/zap"

	"github.com/ryandielhenn/p2pgossip/pkg/peer"
	"github.com/ryandielhenn/p2pgossip/pkg/wire"
)

// Connector is the outbound half of the handshake.
type Connector interface {
	Descriptor(ctx context.Context, addr netip.AddrPort) (peer.Peer, error)
	Connect(ctx context.Context, addr netip.AddrPort, self peer.Peer) (wire.Ack, error)
}

// Bootstrap introduces this node to every seed: it checks the seed speaks
// the gossip protocol, asks it to register us, and on success registers
// the seed under the address we dialed. Seeds that fail are skipped. It
// returns the number of seeds joined.
func (n *Node) Bootstrap(ctx context.Context, c Connector, seeds []netip.AddrPort) int {
	joined := 0
	for _, seed := range seeds {
		if n.IsSelf(seed) {
			continue
		}
		if n.Join(ctx, c, seed) {
			joined++
		}
	}
	return joined
}

// Join runs the outbound handshake against a single seed.
func (n *Node) Join(ctx context.Context, c Connector, seed netip.AddrPort) bool {
	log := n.log.With(zap.Stringer("peer", seed))

	log.Info("checking if peer is a p2pgossip instance")
	p, err := c.Descriptor(ctx, seed)
	if err != nil {
		log.Debug("not a gossip peer", zap.Error(err))
		return false
	}

	ack, err := c.Connect(ctx, seed, n.self)
	if err != nil {
		log.Warn("connect failed", zap.Error(err))
		return false
	}
	n.peers.Put(seed, p)
	log.Info("successfully connected", zap.String("status", ack.Status))
	return true
}
