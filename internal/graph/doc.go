// Package graph holds the per-worker partition of the road graph.
//
// A worker owns a subset of the global nodes together with their outgoing
// edges. Each node is addressed locally by a dense LocalIndex; an edge points
// either at another local node (a domestic target) or at a node owned by a
// different worker (a foreign target, carrying the owner's WorkerID).
//
// # Lifecycle
//
// A Fragment is assembled once with Build from the records the manager hands
// out at registration and is never mutated afterwards. It is therefore shared
// by every concurrent query on the worker without any locking:
//
//	frag, err := graph.Build(workerID, resp.Nodes, resp.Edges)
//	if err != nil {
//	    log.Fatalf("build fragment: %v", err)
//	}
//	idx, err := frag.Lookup(42)
//	for _, e := range frag.Edges(idx) {
//	    ...
//	}
//
// Lookups of nodes that live in another partition fail with ErrNodeNotFound.
package graph
