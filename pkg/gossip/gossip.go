package gossip

import (
	"context"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/p2pgossip/internal/telemetry"
	"github.com/ryandielhenn/p2pgossip/pkg/peer"
	"github.com/ryandielhenn/p2pgossip/pkg/wire"
)

type Discoverer interface {
	Discover(ctx context.Context, targets []netip.AddrPort) int
}

type Disseminator interface {
	Disseminate(ctx context.Context, msg wire.Message, targets []netip.AddrPort) Result
}

type Options struct {
	Period    time.Duration
	Message   wire.Message
	Discovery bool // pull known peers before every push
	Logger    *zap.Logger
}

// Scheduler drives the gossip loop: on every tick it optionally pulls
// known peers, then pushes the message to everyone it knows.
type Scheduler struct {
	registry      *peer.Registry
	discovery     Discoverer
	dissemination Disseminator
	period        time.Duration
	msg           wire.Message
	log           *zap.Logger

	discover atomic.Bool
	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

func NewScheduler(reg *peer.Registry, disc Discoverer, diss Disseminator, opts Options) *Scheduler {
	if opts.Period <= 0 {
		opts.Period = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Scheduler{
		registry:      reg,
		discovery:     disc,
		dissemination: diss,
		period:        opts.Period,
		msg:           opts.Message,
		log:           opts.Logger,
		stop:          make(chan struct{}),
	}
	s.discover.Store(opts.Discovery)
	s.running.Store(true)
	return s
}

// Run ticks until Stop is called or ctx is done. A cycle that has started
// always runs to completion; its calls are not cancelled by Stop or ctx.
// Once stopped, Run returns immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.Load() {
		return nil
	}
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	s.log.Info("gossip loop started", zap.Duration("period", s.period), zap.Bool("discovery", s.discover.Load()))
	for {
		select {
		case <-ctx.Done():
			s.running.Store(false)
		case <-s.stop:
		case <-ticker.C:
		}
		if !s.running.Load() {
			s.log.Info("gossip loop stopped")
			return nil
		}
		s.Cycle(context.WithoutCancel(ctx))
	}
}

// Stop moves the scheduler to its terminal state and wakes Run.
func (s *Scheduler) Stop() {
	s.running.Store(false)
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Scheduler) Running() bool { return s.running.Load() }

func (s *Scheduler) SetDiscovery(on bool) { s.discover.Store(on) }

func (s *Scheduler) DiscoveryEnabled() bool { return s.discover.Load() }

// Cycle runs one discovery/dissemination round.
func (s *Scheduler) Cycle(ctx context.Context) Result {
	start := time.Now()

	targets := s.registry.Addrs()
	if s.discover.Load() && len(targets) > 0 {
		s.discovery.Discover(ctx, targets)
		targets = s.registry.Addrs()
	}

	s.log.Debug("messaging peers", zap.Stringers("peers", targets))
	res := s.dissemination.Disseminate(ctx, s.msg, targets)

	telemetry.CyclesTotal.Inc()
	telemetry.CycleDuration.Observe(time.Since(start).Seconds())
	telemetry.KnownPeers.Set(float64(s.registry.Len()))
	s.log.Info("gossip cycle done",
		zap.Int("delivered", len(res.Delivered)),
		zap.Int("evicted", len(res.Evicted)),
		zap.Duration("took", time.Since(start)),
	)
	return res
}
