// Package query implements the executer side of the distributed shortest
// path search.
//
// # Overview
//
// A Manager accepts path queries, numbers them and keeps one Coordinator per
// query in a Busy/Ready lease registry. A Coordinator owns the scheduling
// loop: it knows, for every worker, the nodes waiting to be sent to it and
// the smallest distance among them (its estimate). Each round it contacts
// the worker with the smallest estimate, bounding that worker's expansion by
// the smallest estimate of all other workers, and routes the foreign nodes
// the worker reports to their owners.
//
//	client ──ShortestPathQuery──▶ Manager ──▶ Coordinator
//	                                             │  AreNodesPresent (all workers)
//	                                             │  UpdateSearch    (one worker per round)
//	                                             ▼
//	                                          workers
//
// # Lifecycle
//
//   - ShortestPath: the coordinator is inserted Busy, locates the endpoints,
//     runs to completion and is parked Ready so the path can be replayed.
//   - Backtrack / Path: acquires the coordinator and walks parent pointers
//     from the destination, hopping between workers as needed.
//   - Forget: removes the coordinator and tells every worker that took part.
//
// A second operation on a query that is Busy fails with lease.ErrBusy.
// A query whose run fails is removed and forgotten on its workers at once.
//
// # Correctness
//
// The rounds accepted by a coordinator have non-decreasing estimates, the
// distributed analogue of Dijkstra's extract-min order, and the destination
// is reported only once it is settled below every other worker's estimate.
// The result is therefore independent of how nodes are split across workers.
package query
