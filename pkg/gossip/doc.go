// Package gossip implements the periodic membership refresh and message
// dissemination loop of a p2pgossip node, plus the HTTP client it uses to
// talk to other nodes.
//
// Each tick of the Scheduler:
//
//  1. snapshots the known-peer registry,
//  2. if discovery is enabled, pulls /known_peers from every snapshot entry
//     concurrently and merges the answers (the local address is dropped),
//  3. pushes the message to every peer now known, evicting any peer whose
//     push fails.
//
// Typical usage:
//
//	c := gossip.NewClient(gossip.ClientOptions{Timeout: 2 * time.Second})
//	disc := gossip.NewDiscovery(c, reg, self, 2*time.Second, logger)
//	diss := gossip.NewDissemination(c, reg, 8, 2*time.Second, logger)
//	s := gossip.NewScheduler(reg, disc, diss, gossip.Options{Period: 5 * time.Second})
//	go s.Run(ctx)
//	defer s.Stop()
//
// Pushes are fanned out with a concurrency bound and a per-peer timeout,
// so one unresponsive peer cannot hold up delivery to the others.
package gossip
