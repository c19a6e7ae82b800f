package node

import (
	"errors"
	"io"
	"net/http"
	"net/netip"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/p2pgossip/internal/telemetry"
	"github.com/ryandielhenn/p2pgossip/pkg/peer"
	"github.com/ryandielhenn/p2pgossip/pkg/wire"
)

const maxBodyBytes = 1 << 20

// Handler wires every node endpoint into a mux, instrumented per op.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", telemetry.Instrument("index", http.HandlerFunc(n.Index)))
	mux.Handle("/connect", telemetry.Instrument("connect", http.HandlerFunc(n.Connect)))
	mux.Handle("/known_peers", telemetry.Instrument("known_peers", http.HandlerFunc(n.KnownPeers)))
	mux.Handle("/message", telemetry.Instrument("message", http.HandlerFunc(n.Message)))
	mux.HandleFunc("/healthz", n.Healthz)
	mux.HandleFunc("/info", n.Info)
	mux.Handle("/metrics", telemetry.MetricsHandler())
	return mux
}

// index returns this node's own descriptor.
func (n *Node) Index(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		http.NotFound(w, req)
		return
	}
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n.log.Debug("incoming request", zap.String("from", req.RemoteAddr))
	wire.Write(w, wire.ResponseCodec(req), http.StatusOK, n.self.Descriptor())
}

// connect registers the caller as a known peer.
func (n *Node) Connect(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	observed, err := remoteAddr(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var d peer.Descriptor
	if err := decode(w, req, &d); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.log.Info("incoming connection request", zap.Stringer("from", observed))
	ack, err := n.Handshake(observed.Addr(), d)
	switch {
	case errors.Is(err, ErrSelfConnect):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	wire.Write(w, wire.ResponseCodec(req), http.StatusOK, ack)
}

// knownPeers returns the full registry as address -> descriptor.
func (n *Node) KnownPeers(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	wire.Write(w, wire.ResponseCodec(req), http.StatusOK, peer.EncodeSnapshot(n.peers.Snapshot()))
}

// message accepts a gossip message and echoes it back.
func (n *Node) Message(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	observed, err := remoteAddr(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var m wire.Message
	if err := decode(w, req, &m); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if n.requireKnown && !n.KnownSender(observed.Addr()) {
		http.Error(w, "not a known peer", http.StatusForbidden)
		return
	}

	n.log.Info("received message", zap.Stringer("from", observed), zap.String("message", m.Message))
	wire.Write(w, wire.ResponseCodec(req), http.StatusOK, m)
}

// healthz returns 200 OK to indicate the Node is alive.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// info writes the node id, address, process ID and registry size.
func (n *Node) Info(w http.ResponseWriter, req *http.Request) {
	type resp struct {
		ID         string    `json:"id" cbor:"id"`
		Address    string    `json:"address" cbor:"address"`
		PID        int       `json:"pid" cbor:"pid"`
		Started    time.Time `json:"started" cbor:"started"`
		Now        time.Time `json:"now" cbor:"now"`
		KnownPeers int       `json:"known_peers" cbor:"known_peers"`
	}
	wire.Write(w, wire.ResponseCodec(req), http.StatusOK, resp{
		ID:         n.id,
		Address:    n.addr.String(),
		PID:        os.Getpid(),
		Started:    n.self.Started,
		Now:        time.Now(),
		KnownPeers: n.peers.Len(),
	})
}

func remoteAddr(req *http.Request) (netip.AddrPort, error) {
	ap, err := netip.ParseAddrPort(req.RemoteAddr)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}

func decode(w http.ResponseWriter, req *http.Request, v any) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	return wire.RequestCodec(req).Unmarshal(data, v)
}
