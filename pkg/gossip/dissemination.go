package gossip

import (
	"context"
	"net/netip"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/p2pgossip/internal/telemetry"
	"github.com/ryandielhenn/p2pgossip/pkg/peer"
	"github.com/ryandielhenn/p2pgossip/pkg/wire"
)

// Pusher delivers a message to a single peer.
type Pusher interface {
	Send(ctx context.Context, addr netip.AddrPort, msg wire.Message) error
}

// Result is the outcome of one dissemination round.
type Result struct {
	Delivered []netip.AddrPort
	Evicted   []netip.AddrPort
}

// Dissemination pushes a message to a set of peers and evicts every peer
// that fails to take it. A single failure is enough.
type Dissemination struct {
	pusher      Pusher
	registry    *peer.Registry
	concurrency int
	timeout     time.Duration
	log         *zap.Logger
}

func NewDissemination(p Pusher, reg *peer.Registry, concurrency int, timeout time.Duration, logger *zap.Logger) *Dissemination {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dissemination{pusher: p, registry: reg, concurrency: concurrency, timeout: timeout, log: logger}
}

func (d *Dissemination) Disseminate(ctx context.Context, msg wire.Message, targets []netip.AddrPort) Result {
	var (
		mu  sync.Mutex
		res Result
		g   errgroup.Group
	)
	g.SetLimit(d.concurrency)

	for _, addr := range targets {
		g.Go(func() error {
			cctx := ctx
			if d.timeout > 0 {
				var cancel context.CancelFunc
				cctx, cancel = context.WithTimeout(ctx, d.timeout)
				defer cancel()
			}
			err := d.pusher.Send(cctx, addr, msg)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				telemetry.PushesTotal.WithLabelValues(telemetry.ResultError).Inc()
				if d.registry.Remove(addr) {
					telemetry.EvictionsTotal.Inc()
				}
				d.log.Info("evicting peer", zap.Stringer("peer", addr), zap.Error(err))
				res.Evicted = append(res.Evicted, addr)
				return nil
			}
			telemetry.PushesTotal.WithLabelValues(telemetry.ResultOK).Inc()
			res.Delivered = append(res.Delivered, addr)
			return nil
		})
	}
	_ = g.Wait()

	sortAddrs(res.Delivered)
	sortAddrs(res.Evicted)
	return res
}

func sortAddrs(addrs []netip.AddrPort) {
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Compare(addrs[j]) < 0 })
}
