package peer

import (
	"errors"
	"fmt"
	"net/netip"
	"time"
)

var (
	ErrInvalidPort   = errors.New("peer: invalid port")
	ErrInvalidAlias  = errors.New("peer: invalid host alias")
	ErrInvalidPeriod = errors.New("peer: invalid period")
)

// Loopback is the return address used when a peer declares no host alias.
var Loopback = netip.AddrFrom4([4]byte{127, 0, 0, 1})

// Peer describes a gossip node. Period only means something for the local node.
type Peer struct {
	Started   time.Time
	Period    time.Duration
	Port      uint16
	HostAlias netip.Addr // zero value when no alias was declared
}

// Addr is the address other nodes should use to reach p.
func (p Peer) Addr() netip.AddrPort {
	return p.ResolveFrom(Loopback)
}

// ResolveFrom returns the address p is registered under when its request
// was observed coming from observed: the declared alias wins over the
// observed IP, and the port is always the declared one.
func (p Peer) ResolveFrom(observed netip.Addr) netip.AddrPort {
	host := observed.Unmap()
	if p.HostAlias.IsValid() {
		host = p.HostAlias.Unmap()
	}
	return netip.AddrPortFrom(host, p.Port)
}

// Descriptor is the wire form of a Peer.
type Descriptor struct {
	Started   time.Time `json:"started" cbor:"started"`
	Period    int64     `json:"period" cbor:"period"` // seconds
	Port      int       `json:"port" cbor:"port"`
	HostAlias *string   `json:"host_alias" cbor:"host_alias"`
}

// Descriptor converts p into its wire form.
func (p Peer) Descriptor() Descriptor {
	d := Descriptor{
		Started: p.Started.UTC(),
		Period:  int64(p.Period / time.Second),
		Port:    int(p.Port),
	}
	if p.HostAlias.IsValid() {
		alias := p.HostAlias.String()
		d.HostAlias = &alias
	}
	return d
}

// Peer validates d and builds the Peer it describes.
func (d Descriptor) Peer() (Peer, error) {
	if d.Port <= 0 || d.Port > 65535 {
		return Peer{}, fmt.Errorf("%w: %d", ErrInvalidPort, d.Port)
	}
	if d.Period < 0 {
		return Peer{}, fmt.Errorf("%w: %d", ErrInvalidPeriod, d.Period)
	}
	p := Peer{
		Started: d.Started,
		Period:  time.Duration(d.Period) * time.Second,
		Port:    uint16(d.Port),
	}
	if d.HostAlias != nil && *d.HostAlias != "" {
		alias, err := netip.ParseAddr(*d.HostAlias)
		if err != nil {
			return Peer{}, fmt.Errorf("%w: %v", ErrInvalidAlias, err)
		}
		p.HostAlias = alias.Unmap()
	}
	return p, nil
}

// EncodeSnapshot converts a registry snapshot into its wire form.
func EncodeSnapshot(peers map[netip.AddrPort]Peer) map[string]Descriptor {
	out := make(map[string]Descriptor, len(peers))
	for addr, p := range peers {
		out[addr.String()] = p.Descriptor()
	}
	return out
}

// DecodeSnapshot validates every entry of a wire snapshot. A single bad
// entry rejects the whole snapshot.
func DecodeSnapshot(in map[string]Descriptor) (map[netip.AddrPort]Peer, error) {
	out := make(map[netip.AddrPort]Peer, len(in))
	for key, d := range in {
		addr, err := netip.ParseAddrPort(key)
		if err != nil {
			return nil, fmt.Errorf("peer: bad address %q: %w", key, err)
		}
		p, err := d.Peer()
		if err != nil {
			return nil, fmt.Errorf("peer: entry %s: %w", key, err)
		}
		out[netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())] = p
	}
	return out, nil
}
