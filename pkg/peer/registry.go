package peer

import (
	"net/netip"
	"sort"
	"sync"
)

// Registry is the set of known peers keyed by the address they are
// reachable at. The lock only ever guards map operations; callers take a
// Snapshot before doing any network I/O.
type Registry struct {
	mu    sync.Mutex
	peers map[netip.AddrPort]Peer
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[netip.AddrPort]Peer)}
}

// Put adds p under addr, overwriting any previous entry.
func (r *Registry) Put(addr netip.AddrPort, p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[addr] = p
}

// Add inserts p under addr unless addr is already known. It reports
// whether the entry was inserted.
func (r *Registry) Add(addr netip.AddrPort, p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[addr]; ok {
		return false
	}
	r.peers[addr] = p
	return true
}

// Remove deletes addr. Removing an unknown address is a no-op.
func (r *Registry) Remove(addr netip.AddrPort) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.peers[addr]
	delete(r.peers, addr)
	return ok
}

func (r *Registry) Contains(addr netip.AddrPort) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.peers[addr]
	return ok
}

func (r *Registry) Get(addr netip.AddrPort) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[addr]
	return p, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Snapshot returns an independent copy of the registry.
func (r *Registry) Snapshot() map[netip.AddrPort]Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[netip.AddrPort]Peer, len(r.peers))
	for addr, p := range r.peers {
		out[addr] = p
	}
	return out
}

// Addrs returns the known addresses in a stable order.
func (r *Registry) Addrs() []netip.AddrPort {
	r.mu.Lock()
	addrs := make([]netip.AddrPort, 0, len(r.peers))
	for addr := range r.peers {
		addrs = append(addrs, addr)
	}
	r.mu.Unlock()

	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Compare(addrs[j]) < 0 })
	return addrs
}

// Merge overwrites the registry with every entry of remote that does not
// reach self. It returns the number of entries written.
func (r *Registry) Merge(remote map[netip.AddrPort]Peer, self Local) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for addr, p := range remote {
		if self.Is(addr) {
			continue
		}
		r.peers[addr] = p
		n++
	}
	return n
}
