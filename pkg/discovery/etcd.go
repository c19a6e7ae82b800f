package discovery

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// Etcd publishes this node's address under prefix+id and lists or watches
// the addresses other nodes published there.
type Etcd struct {
	cli    *clientv3.Client
	prefix string
	log    *zap.Logger
}

func NewEtcd(cli *clientv3.Client, prefix string, logger *zap.Logger) *Etcd {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Etcd{cli: cli, prefix: prefix, log: logger}
}

// Register puts addr under a lease kept alive until the returned cancel
// func is called.
func (e *Etcd) Register(ctx context.Context, id string, addr netip.AddrPort, ttl int64) (clientv3.LeaseID, context.CancelFunc, error) {
	lease, err := e.cli.Grant(ctx, ttl)
	if err != nil {
		return 0, nil, fmt.Errorf("etcd grant: %w", err)
	}
	if _, err := e.cli.Put(ctx, e.prefix+id, addr.String(), clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, fmt.Errorf("etcd put: %w", err)
	}

	kctx, cancel := context.WithCancel(context.Background())
	ch, err := e.cli.KeepAlive(kctx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, fmt.Errorf("etcd keepalive: %w", err)
	}
	go func() {
		for range ch {
		}
		e.log.Debug("etcd keepalive stopped", zap.Int64("lease", int64(lease.ID)))
	}()
	return lease.ID, cancel, nil
}

// Deregister revokes the registration lease.
func (e *Etcd) Deregister(ctx context.Context, lease clientv3.LeaseID) error {
	_, err := e.cli.Revoke(ctx, lease)
	return err
}

// Peers lists every registered node except self.
func (e *Etcd) Peers(ctx context.Context, self string) ([]netip.AddrPort, error) {
	resp, err := e.cli.Get(ctx, e.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("etcd get: %w", err)
	}
	var out []netip.AddrPort
	for _, kv := range resp.Kvs {
		id, addr, err := parseEntry(e.prefix, kv.Key, kv.Value)
		if err != nil {
			e.log.Warn("skipping etcd entry", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		if id != self {
			out = append(out, addr)
		}
	}
	return out, nil
}

// Watch calls fn for every node registered after the watch starts, until
// ctx is done.
func (e *Etcd) Watch(ctx context.Context, self string, fn func(id string, addr netip.AddrPort)) {
	wch := e.cli.Watch(ctx, e.prefix, clientv3.WithPrefix())
	go func() {
		for resp := range wch {
			for _, ev := range resp.Events {
				if ev.Type != mvccpb.PUT {
					continue
				}
				id, addr, err := parseEntry(e.prefix, ev.Kv.Key, ev.Kv.Value)
				if err != nil {
					e.log.Warn("skipping etcd event", zap.ByteString("key", ev.Kv.Key), zap.Error(err))
					continue
				}
				if id == self {
					continue
				}
				fn(id, addr)
			}
		}
	}()
}

func parseEntry(prefix string, key, value []byte) (string, netip.AddrPort, error) {
	id := strings.TrimPrefix(string(key), prefix)
	if id == "" || id == string(key) {
		return "", netip.AddrPort{}, fmt.Errorf("key %q outside prefix %q", key, prefix)
	}
	addr, err := netip.ParseAddrPort(strings.TrimSpace(string(value)))
	if err != nil {
		return "", netip.AddrPort{}, err
	}
	return id, addr, nil
}
