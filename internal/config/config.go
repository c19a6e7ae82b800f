package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ryandielhenn/p2pgossip/pkg/peer"
	"github.com/ryandielhenn/p2pgossip/pkg/wire"
)

// Config holds everything a node needs at startup. Every flag falls back
// to a GOSSIP_* environment variable.
type Config struct {
	ID                 string
	Port               int
	Connect            []string
	Seeds              []netip.AddrPort // parsed from Connect by Validate
	Period             int              // seconds
	HostAlias          string
	Discover           bool
	RequireKnownSender bool
	Message            string
	PushConcurrency    int
	PeerTimeout        time.Duration
	Codec              string
	EtcdEndpoints      []string
	EtcdPrefix         string
	EtcdTTL            int64
	MDNS               bool
	LogLevel           string
	Development        bool
}

// listFlag is a repeatable, comma separated flag. Its environment default
// is replaced, not extended, by the first value given on the command line.
type listFlag struct {
	vals []string
	set  bool
}

func (l *listFlag) String() string { return strings.Join(l.vals, ",") }

func (l *listFlag) Set(v string) error {
	if !l.set {
		l.vals, l.set = nil, true
	}
	l.vals = append(l.vals, splitList(v)...)
	return nil
}

// Load parses args (without the program name) on top of environment
// defaults and validates the result.
func Load(args []string) (*Config, error) {
	c := &Config{}
	fs := flag.NewFlagSet("p2pgossip", flag.ContinueOnError)
	e := &envFlags{fs: fs}

	fs.StringVar(&c.ID, "id", env("GOSSIP_ID", ""), "node instance id (random uuid when empty)")
	e.IntVar(&c.Port, "port", "GOSSIP_PORT", 0, "port to listen on (required)")
	connect := listFlag{vals: splitList(env("GOSSIP_CONNECT", ""))}
	fs.Var(&connect, "connect", "peer to connect to at startup; repeatable or comma separated")
	e.IntVar(&c.Period, "period", "GOSSIP_PERIOD", 5, "message period in seconds")
	fs.StringVar(&c.HostAlias, "host-alias", env("GOSSIP_HOST_ALIAS", ""), "return address other peers should use (localhost by default)")
	e.BoolVar(&c.Discover, "update", "GOSSIP_DISCOVER", false, "also fetch and merge known peers from other peers")
	e.BoolVar(&c.RequireKnownSender, "require-known-sender", "GOSSIP_REQUIRE_KNOWN_SENDER", false, "reject messages from unknown senders")
	fs.StringVar(&c.Message, "message", env("GOSSIP_MESSAGE", "[random_message]"), "message pushed to peers every period")
	e.IntVar(&c.PushConcurrency, "push-concurrency", "GOSSIP_PUSH_CONCURRENCY", 8, "max concurrent message pushes")
	e.DurationVar(&c.PeerTimeout, "peer-timeout", "GOSSIP_PEER_TIMEOUT", 2*time.Second, "timeout for a single peer call")
	fs.StringVar(&c.Codec, "codec", env("GOSSIP_CODEC", "json"), "wire codec for outbound calls: json or cbor")
	etcd := listFlag{vals: splitList(env("GOSSIP_ETCD_ENDPOINTS", ""))}
	fs.Var(&etcd, "etcd", "etcd endpoint used for seed discovery; repeatable or comma separated")
	fs.StringVar(&c.EtcdPrefix, "etcd-prefix", env("GOSSIP_ETCD_PREFIX", "/p2pgossip/nodes/"), "etcd key prefix for node registrations")
	e.Int64Var(&c.EtcdTTL, "etcd-ttl", "GOSSIP_ETCD_TTL", 10, "etcd registration lease ttl in seconds")
	e.BoolVar(&c.MDNS, "mdns", "GOSSIP_MDNS", false, "announce and browse for seeds over mDNS")
	fs.StringVar(&c.LogLevel, "log-level", env("GOSSIP_LOG_LEVEL", "info"), "debug, info, warn or error")
	e.BoolVar(&c.Development, "dev", "GOSSIP_DEV", false, "human readable development logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := e.Err(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	c.Connect = connect.vals
	c.EtcdEndpoints = etcd.vals
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects configurations the node cannot start with and fills
// Seeds.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.Period <= 0 {
		errs = append(errs, fmt.Errorf("invalid period %d", c.Period))
	}
	if c.HostAlias != "" {
		if _, err := netip.ParseAddr(c.HostAlias); err != nil {
			errs = append(errs, fmt.Errorf("invalid host alias: %w", err))
		}
	}
	if c.PushConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("invalid push concurrency %d", c.PushConcurrency))
	}
	if c.PeerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid peer timeout %s", c.PeerTimeout))
	}
	if _, err := wire.ByName(c.Codec); err != nil {
		errs = append(errs, err)
	}
	if len(c.EtcdEndpoints) > 0 && c.EtcdTTL <= 0 {
		errs = append(errs, fmt.Errorf("invalid etcd ttl %d", c.EtcdTTL))
	}
	if (c.MDNS || len(c.EtcdEndpoints) > 0) && c.HostAlias == "" {
		errs = append(errs, errors.New("host alias required with etcd or mdns: other hosts cannot reach the loopback default"))
	}

	seeds, err := ParseAddrs(c.Connect)
	if err != nil {
		errs = append(errs, err)
	}
	c.Seeds = seeds

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Self builds this node's descriptor. Validate must have succeeded.
func (c *Config) Self(started time.Time) peer.Peer {
	p := peer.Peer{
		Started: started.UTC(),
		Period:  time.Duration(c.Period) * time.Second,
		Port:    uint16(c.Port),
	}
	if c.HostAlias != "" {
		p.HostAlias = netip.MustParseAddr(c.HostAlias).Unmap()
	}
	return p
}

// ParseAddrs parses seed addresses of the form ip:port, optionally
// prefixed with http:// or https://. "localhost" maps to 127.0.0.1.
func ParseAddrs(raw []string) ([]netip.AddrPort, error) {
	out := make([]netip.AddrPort, 0, len(raw))
	for _, s := range raw {
		addr, err := ParseAddr(s)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func ParseAddr(s string) (netip.AddrPort, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "http://"); ok {
		s = rest
	} else if rest, ok := strings.CutPrefix(s, "https://"); ok {
		s = rest
	}
	s = strings.TrimSuffix(s, "/")

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid peer address %q: %w", s, err)
	}
	if host == "localhost" {
		host = peer.Loopback.String()
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid peer address %q: %w", s, err)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil || p == 0 {
		return netip.AddrPort{}, fmt.Errorf("invalid peer address %q: bad port", s)
	}
	return netip.AddrPortFrom(ip.Unmap(), uint16(p)), nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envFlags registers flags whose defaults come from GOSSIP_* variables.
// A variable that does not parse is an error unless its flag is given.
type envFlags struct {
	fs  *flag.FlagSet
	bad map[string]error // by flag name
}

func (e *envFlags) lookup(name, key string, parse func(string) error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if err := parse(v); err != nil {
		if e.bad == nil {
			e.bad = make(map[string]error)
		}
		e.bad[name] = fmt.Errorf("%s=%q: %w", key, v, err)
	}
}

func (e *envFlags) IntVar(p *int, name, key string, def int, usage string) {
	e.lookup(name, key, func(v string) (err error) {
		def, err = strconv.Atoi(v)
		return err
	})
	e.fs.IntVar(p, name, def, usage)
}

func (e *envFlags) Int64Var(p *int64, name, key string, def int64, usage string) {
	e.lookup(name, key, func(v string) (err error) {
		def, err = strconv.ParseInt(v, 10, 64)
		return err
	})
	e.fs.Int64Var(p, name, def, usage)
}

func (e *envFlags) BoolVar(p *bool, name, key string, def bool, usage string) {
	e.lookup(name, key, func(v string) (err error) {
		def, err = strconv.ParseBool(v)
		return err
	})
	e.fs.BoolVar(p, name, def, usage)
}

func (e *envFlags) DurationVar(p *time.Duration, name, key string, def time.Duration, usage string) {
	e.lookup(name, key, func(v string) (err error) {
		def, err = time.ParseDuration(v)
		return err
	})
	e.fs.DurationVar(p, name, def, usage)
}

// Err reports the unparseable variables whose flags were not set. Call it
// after Parse.
func (e *envFlags) Err() error {
	e.fs.Visit(func(f *flag.Flag) { delete(e.bad, f.Name) })
	names := make([]string, 0, len(e.bad))
	for name := range e.bad {
		names = append(names, name)
	}
	sort.Strings(names)
	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, e.bad[name])
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
