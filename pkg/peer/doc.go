// Package peer holds the gossip node descriptor and the registry of known
// peers. Peers are identified by the address they were registered under,
// never by descriptor content. The registry never contains the local
// node's own address: callers pass it to Merge, and the handshake rejects
// it before calling Add.
package peer
