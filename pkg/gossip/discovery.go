package gossip

import (
	"context"
	"net/netip"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/p2pgossip/internal/telemetry"
	"github.com/ryandielhenn/p2pgossip/pkg/peer"
)

// Puller fetches the registry of a remote peer.
type Puller interface {
	KnownPeers(ctx context.Context, addr netip.AddrPort) (map[netip.AddrPort]peer.Peer, error)
}

// Discovery runs one anti-entropy pull round against a set of peers and
// merges what they know into the local registry.
type Discovery struct {
	puller   Puller
	registry *peer.Registry
	self     peer.Local
	timeout  time.Duration
	log      *zap.Logger
}

func NewDiscovery(p Puller, reg *peer.Registry, self netip.AddrPort, timeout time.Duration, logger *zap.Logger) *Discovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discovery{puller: p, registry: reg, self: peer.NewLocal(self, peer.InterfaceAddrs()...), timeout: timeout, log: logger}
}

// Discover pulls every target concurrently, waits for all of them, and
// merges the successful results. Failed pulls are dropped. It returns the
// number of registry entries written.
func (d *Discovery) Discover(ctx context.Context, targets []netip.AddrPort) int {
	results := make([]map[netip.AddrPort]peer.Peer, len(targets))

	var g errgroup.Group
	for i, addr := range targets {
		g.Go(func() error {
			cctx := ctx
			if d.timeout > 0 {
				var cancel context.CancelFunc
				cctx, cancel = context.WithTimeout(ctx, d.timeout)
				defer cancel()
			}
			remote, err := d.puller.KnownPeers(cctx, addr)
			if err != nil {
				telemetry.PullsTotal.WithLabelValues(telemetry.ResultError).Inc()
				d.log.Debug("known peers pull failed", zap.Stringer("peer", addr), zap.Error(err))
				return nil
			}
			telemetry.PullsTotal.WithLabelValues(telemetry.ResultOK).Inc()
			results[i] = remote
			return nil
		})
	}
	_ = g.Wait()

	merged := 0
	for _, remote := range results {
		if remote != nil {
			merged += d.registry.Merge(remote, d.self)
		}
	}
	d.log.Info("fetched known peers", zap.Int("targets", len(targets)), zap.Int("merged", merged))
	return merged
}
