// Package cluster holds the bootstrap protocol spoken between the manager,
// the workers and the executer, together with the small JSON helpers every
// binary uses to speak it.
//
// # Overview
//
// A waypoint deployment has one manager, one worker per graph fragment and
// one or more executers. The manager owns the whole graph file and cuts it
// into fragments; workers come up empty, register, and pull the fragment
// whose id they were given; executers wait until every fragment has a
// worker and then dial them all over gRPC.
//
//	            ┌──────────────┐
//	            │   Manager    │
//	            │ graph file   │
//	            │ fragments    │
//	            │ health mon   │
//	            └──────┬───────┘
//	                   │ HTTP/JSON
//	   ┌───────────────┼───────────────┐
//	   │               │               │
//	┌──▼───────┐ ┌─────▼────┐ ┌────────▼──┐
//	│ Worker 0 │ │ Worker 1 │ │ Executer  │
//	│ frag 0   │ │ frag 1   │ │ gRPC to   │
//	└──────────┘ └──────────┘ │ workers   │
//	                          └───────────┘
//
// # Protocol
//
// Registration (POST /register):
//   - The worker sends its gRPC address and its admin base URL
//   - The manager answers with the lowest unassigned fragment id
//   - Registering again from the same gRPC address returns the same id
//   - Once every fragment is taken the manager answers 409 Conflict
//
// Fragment download (GET /fragment?worker=N):
//   - Returns the nodes owned by worker N and every edge leaving them
//   - Edges that cross into another fragment carry the owner's id
//
// Discovery (GET /workers):
//   - Returns the registered workers sorted by id
//   - Complete is set once the worker count equals the fragment count
//
// # Failure Handling
//
// All helpers use a shared HTTP client with a 5 second timeout. Non-2xx
// replies come back as *StatusError so that callers can tell a full
// cluster (409) from a transient failure and retry only the latter.
package cluster
