package peer

import (
	"net"
	"net/netip"
)

// Local recognises the addresses that reach this node: its advertised
// address, plus its port on any loopback, unspecified or local interface IP.
type Local struct {
	Addr netip.AddrPort
	ips  map[netip.Addr]struct{}
}

func NewLocal(addr netip.AddrPort, ips ...netip.Addr) Local {
	l := Local{Addr: addr, ips: make(map[netip.Addr]struct{}, len(ips))}
	for _, ip := range ips {
		l.ips[ip.Unmap()] = struct{}{}
	}
	return l
}

// InterfaceAddrs lists the IPs assigned to this host's interfaces. Errors
// yield an empty list.
func InterfaceAddrs() []netip.Addr {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	out := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip, ok := netip.AddrFromSlice(ipnet.IP); ok {
			out = append(out, ip.Unmap())
		}
	}
	return out
}

// Is reports whether a reaches this node.
func (l Local) Is(a netip.AddrPort) bool {
	if a == l.Addr {
		return true
	}
	if !l.Addr.IsValid() || a.Port() != l.Addr.Port() {
		return false
	}
	ip := a.Addr().Unmap()
	if ip.IsLoopback() || ip.IsUnspecified() {
		return true
	}
	_, ok := l.ips[ip]
	return ok
}
