package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/p2pgossip/internal/config"
	"github.com/ryandielhenn/p2pgossip/internal/telemetry"
	"github.com/ryandielhenn/p2pgossip/pkg/discovery"
	"github.com/ryandielhenn/p2pgossip/pkg/gossip"
	"github.com/ryandielhenn/p2pgossip/pkg/node"
	"github.com/ryandielhenn/p2pgossip/pkg/peer"
	"github.com/ryandielhenn/p2pgossip/pkg/wire"
)

// Set with -ldflags "-X main.version=... -X main.gitSHA=...".
var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.LogLevel, cfg.Development)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("node", cfg.ID))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetry.SetBuildInfo(version, gitSHA)

	// 1. Build this node's state
	reg := peer.NewRegistry()
	n := node.New(reg, node.Options{
		ID:                 cfg.ID,
		Self:               cfg.Self(time.Now()),
		RequireKnownSender: cfg.RequireKnownSender,
		Logger:             logger.Named("node"),
	})
	codec, _ := wire.ByName(cfg.Codec)
	client := gossip.NewClient(gossip.ClientOptions{
		Timeout: cfg.PeerTimeout,
		Codec:   codec,
		Logger:  logger.Named("client"),
	})

	// 2. Start serving so seeds can reach back
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		logger.Fatal("listen", zap.Int("port", cfg.Port), zap.Error(err))
	}
	srv := &http.Server{Handler: n.Handler(), ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("p2pgossip node listening", zap.Stringer("addr", ln.Addr()), zap.Stringer("self", n.Addr()))
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// 3. Collect seeds and introduce ourselves
	seeds := append([]netip.AddrPort(nil), cfg.Seeds...)

	if len(cfg.EtcdEndpoints) > 0 {
		cli, err := discovery.NewClient(cfg.EtcdEndpoints)
		if err != nil {
			logger.Fatal("etcd client", zap.Error(err))
		}
		defer cli.Close()
		etcd := discovery.NewEtcd(cli, cfg.EtcdPrefix, logger.Named("etcd"))

		found, err := etcd.Peers(gctx, cfg.ID)
		if err != nil {
			logger.Fatal("etcd seeds", zap.Error(err))
		}
		seeds = append(seeds, found...)

		lease, cancel, err := etcd.Register(gctx, cfg.ID, n.Addr(), cfg.EtcdTTL)
		if err != nil {
			logger.Fatal("etcd register", zap.Error(err))
		}
		defer func() {
			cancel()
			rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer rcancel()
			_ = etcd.Deregister(rctx, lease)
		}()

		etcd.Watch(gctx, cfg.ID, func(id string, addr netip.AddrPort) {
			if !reg.Contains(addr) {
				n.Join(gctx, client, addr)
			}
		})
	}

	if cfg.MDNS {
		ann, err := discovery.Announce(cfg.ID, n.Addr())
		if err != nil {
			logger.Fatal("mdns announce", zap.Error(err))
		}
		defer ann.Shutdown()

		found, err := discovery.Browse(cfg.ID, 2*time.Second, logger.Named("mdns"))
		if err != nil {
			logger.Warn("mdns browse", zap.Error(err))
		}
		seeds = append(seeds, found...)
	}

	joined := n.Bootstrap(gctx, client, seeds)
	logger.Info("bootstrap done", zap.Int("seeds", len(seeds)), zap.Int("joined", joined))

	// 4. Gossip until told to stop
	sched := gossip.NewScheduler(reg,
		gossip.NewDiscovery(client, reg, n.Addr(), cfg.PeerTimeout, logger.Named("discovery")),
		gossip.NewDissemination(client, reg, cfg.PushConcurrency, cfg.PeerTimeout, logger.Named("dissemination")),
		gossip.Options{
			Period:    time.Duration(cfg.Period) * time.Second,
			Message:   wire.Message{Message: cfg.Message},
			Discovery: cfg.Discover,
			Logger:    logger.Named("gossip"),
		},
	)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		sched.Stop()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("node stopped", zap.Error(err))
		return
	}
	logger.Info("node stopped")
}

func newLogger(level string, dev bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = lvl
	return cfg.Build()
}
