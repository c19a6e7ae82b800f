package gossip

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ryandielhenn/p2pgossip/pkg/peer"
	"github.com/ryandielhenn/p2pgossip/pkg/wire"
)

// ---- helpers ----

func serverAddr(t *testing.T, srv *httptest.Server) netip.AddrPort {
	t.Helper()
	return netip.MustParseAddrPort(strings.TrimPrefix(srv.URL, "http://"))
}

func deadAddr(t *testing.T) netip.AddrPort {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := serverAddr(t, srv)
	srv.Close()
	return addr
}

func knownPeersServer(t *testing.T, snap map[string]peer.Descriptor) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/known_peers" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func desc(port int) peer.Descriptor {
	return peer.Descriptor{Started: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Period: 5, Port: port}
}

type countingDisseminator struct {
	calls atomic.Int64
}

func (c *countingDisseminator) Disseminate(context.Context, wire.Message, []netip.AddrPort) Result {
	c.calls.Add(1)
	return Result{}
}

type recordingDiscoverer struct {
	mu      sync.Mutex
	targets [][]netip.AddrPort
	add     map[netip.AddrPort]peer.Peer
	reg     *peer.Registry
}

func (r *recordingDiscoverer) Discover(_ context.Context, targets []netip.AddrPort) int {
	r.mu.Lock()
	r.targets = append(r.targets, targets)
	r.mu.Unlock()
	for a, p := range r.add {
		r.reg.Put(a, p)
	}
	return len(r.add)
}

type recordingDisseminator struct {
	targets []netip.AddrPort
}

func (r *recordingDisseminator) Disseminate(_ context.Context, _ wire.Message, targets []netip.AddrPort) Result {
	r.targets = targets
	return Result{Delivered: targets}
}

// ---- scheduler ----

func TestSchedulerStopsAndPushesNoMore(t *testing.T) {
	reg := peer.NewRegistry()
	diss := &countingDisseminator{}
	s := NewScheduler(reg, &recordingDiscoverer{reg: reg}, diss, Options{Period: 10 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for diss.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("scheduler never ran a cycle")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}

	after := diss.calls.Load()
	time.Sleep(50 * time.Millisecond)
	if got := diss.calls.Load(); got != after {
		t.Fatalf("pushes after stop: %d -> %d", after, got)
	}
	if s.Running() {
		t.Fatal("Running() = true after Stop")
	}
}

func TestSchedulerStoppedIsTerminal(t *testing.T) {
	reg := peer.NewRegistry()
	diss := &countingDisseminator{}
	s := NewScheduler(reg, &recordingDiscoverer{reg: reg}, diss, Options{Period: time.Millisecond})
	s.Stop()
	s.Stop()

	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if diss.calls.Load() != 0 {
		t.Fatal("stopped scheduler ran a cycle")
	}
}

func TestSchedulerContextCancelStops(t *testing.T) {
	reg := peer.NewRegistry()
	s := NewScheduler(reg, &recordingDiscoverer{reg: reg}, &countingDisseminator{}, Options{Period: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run ignored context cancellation")
	}
	if s.Running() {
		t.Fatal("Running() = true after cancel")
	}
}

func TestCycleDiscoveryExtendsTargets(t *testing.T) {
	reg := peer.NewRegistry()
	a := netip.MustParseAddrPort("10.0.0.1:9001")
	b := netip.MustParseAddrPort("10.0.0.2:9002")
	reg.Put(a, peer.Peer{Port: 9001})

	disc := &recordingDiscoverer{reg: reg, add: map[netip.AddrPort]peer.Peer{b: {Port: 9002}}}
	diss := &recordingDisseminator{}
	s := NewScheduler(reg, disc, diss, Options{Period: time.Hour, Discovery: true})

	s.Cycle(context.Background())

	if len(disc.targets) != 1 || len(disc.targets[0]) != 1 || disc.targets[0][0] != a {
		t.Fatalf("discovery targets = %v, want [[%s]]", disc.targets, a)
	}
	if len(diss.targets) != 2 {
		t.Fatalf("push targets = %v, want both peers", diss.targets)
	}
}

func TestCycleSkipsDiscoveryWhenDisabled(t *testing.T) {
	reg := peer.NewRegistry()
	reg.Put(netip.MustParseAddrPort("10.0.0.1:9001"), peer.Peer{Port: 9001})

	disc := &recordingDiscoverer{reg: reg}
	s := NewScheduler(reg, disc, &recordingDisseminator{}, Options{Period: time.Hour})
	s.Cycle(context.Background())
	if len(disc.targets) != 0 {
		t.Fatal("discovery ran while disabled")
	}

	s.SetDiscovery(true)
	if !s.DiscoveryEnabled() {
		t.Fatal("SetDiscovery(true) not observed")
	}
	s.Cycle(context.Background())
	if len(disc.targets) != 1 {
		t.Fatal("discovery did not run once enabled")
	}
}
