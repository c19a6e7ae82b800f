package discovery

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"
)

const (
	mdnsService = "_p2pgossip._tcp"
	mdnsDomain  = "local."
)

// Announcer advertises this node on the local network.
type Announcer struct {
	server *mdns.Server
}

// Announce starts answering mDNS queries for this node. The TXT record
// carries the node id and its gossip address.
func Announce(id string, addr netip.AddrPort) (*Announcer, error) {
	info := []string{id, addr.String()}
	svc, err := mdns.NewMDNSService(id, mdnsService, mdnsDomain, "", int(addr.Port()), []net.IP{addr.Addr().AsSlice()}, info)
	if err != nil {
		return nil, fmt.Errorf("mdns service: %w", err)
	}
	srv, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return nil, fmt.Errorf("mdns server: %w", err)
	}
	return &Announcer{server: srv}, nil
}

func (a *Announcer) Shutdown() error {
	return a.server.Shutdown()
}

// Browse queries the local network for other nodes for up to timeout.
func Browse(self string, timeout time.Duration, logger *zap.Logger) ([]netip.AddrPort, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries := make(chan *mdns.ServiceEntry, 16)
	done := make(chan []netip.AddrPort)
	go func() {
		seen := make(map[netip.AddrPort]bool)
		var out []netip.AddrPort
		for e := range entries {
			id, addr, ok := entryAddr(e)
			if !ok || id == self || seen[addr] {
				continue
			}
			logger.Debug("mdns peer", zap.String("id", id), zap.Stringer("addr", addr))
			seen[addr] = true
			out = append(out, addr)
		}
		done <- out
	}()

	params := mdns.DefaultParams(mdnsService)
	params.Domain = mdnsDomain
	params.Timeout = timeout
	params.Entries = entries
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	out := <-done
	if err != nil {
		return nil, fmt.Errorf("mdns query: %w", err)
	}
	return out, nil
}

// entryAddr pulls the node id and gossip address out of a service entry,
// falling back to the record's A address when the TXT address is missing.
func entryAddr(e *mdns.ServiceEntry) (string, netip.AddrPort, bool) {
	if len(e.InfoFields) == 0 {
		return "", netip.AddrPort{}, false
	}
	id := e.InfoFields[0]
	if len(e.InfoFields) > 1 {
		if addr, err := netip.ParseAddrPort(e.InfoFields[1]); err == nil {
			return id, addr, true
		}
	}
	ip, ok := netip.AddrFromSlice(e.AddrV4)
	if !ok || e.Port <= 0 || e.Port > 65535 {
		return "", netip.AddrPort{}, false
	}
	return id, netip.AddrPortFrom(ip.Unmap(), uint16(e.Port)), true
}
