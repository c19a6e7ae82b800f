package gossip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/p2pgossip/pkg/peer"
	"github.com/ryandielhenn/p2pgossip/pkg/wire"
)

// ErrStatus is returned when a peer answers with a non-2xx status.
var ErrStatus = errors.New("gossip: unexpected status")

const maxResponseBytes = 4 << 20

type ClientOptions struct {
	Timeout   time.Duration
	Codec     wire.Codec
	Transport http.RoundTripper
	Logger    *zap.Logger
}

// Client speaks the node HTTP contract to remote peers.
type Client struct {
	http  *http.Client
	codec wire.Codec
	log   *zap.Logger
}

func NewClient(opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Codec == nil {
		opts.Codec = wire.JSON
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		http:  &http.Client{Timeout: opts.Timeout, Transport: opts.Transport},
		codec: opts.Codec,
		log:   opts.Logger,
	}
}

// Descriptor fetches the remote node's own descriptor. A successful decode
// is how the bootstrap tells a gossip node from any other HTTP server.
func (c *Client) Descriptor(ctx context.Context, addr netip.AddrPort) (peer.Peer, error) {
	var d peer.Descriptor
	if err := c.do(ctx, http.MethodGet, addr, "/", nil, &d); err != nil {
		return peer.Peer{}, err
	}
	return d.Peer()
}

// Connect asks addr to register self.
func (c *Client) Connect(ctx context.Context, addr netip.AddrPort, self peer.Peer) (wire.Ack, error) {
	var ack wire.Ack
	err := c.do(ctx, http.MethodPost, addr, "/connect", self.Descriptor(), &ack)
	return ack, err
}

// KnownPeers pulls the remote registry.
func (c *Client) KnownPeers(ctx context.Context, addr netip.AddrPort) (map[netip.AddrPort]peer.Peer, error) {
	var snap map[string]peer.Descriptor
	if err := c.do(ctx, http.MethodGet, addr, "/known_peers", nil, &snap); err != nil {
		return nil, err
	}
	return peer.DecodeSnapshot(snap)
}

// Send pushes msg to addr.
func (c *Client) Send(ctx context.Context, addr netip.AddrPort, msg wire.Message) error {
	return c.do(ctx, http.MethodPost, addr, "/message", msg, nil)
}

func (c *Client) do(ctx context.Context, method string, addr netip.AddrPort, path string, body, out any) error {
	url := "http://" + addr.String() + path

	var rd io.Reader
	if body != nil {
		data, err := c.codec.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, url, err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", c.codec.ContentType())
	}
	req.Header.Set("Accept", c.codec.ContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, url, err)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: %s %s -> %d", ErrStatus, method, url, resp.StatusCode)
	}
	c.log.Debug("peer replied", zap.String("method", method), zap.String("url", url), zap.Int("status", resp.StatusCode))

	if out == nil {
		return nil
	}
	codec := wire.ForContentType(resp.Header.Get("Content-Type"))
	if err := codec.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, url, err)
	}
	return nil
}
