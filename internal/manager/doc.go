// Package manager implements the control plane kept by the manager process:
// which worker serves which graph fragment, and whether those workers are
// still alive.
//
// # Overview
//
// The graph is split once, at manager start, into a fixed number of
// fragments. Fragment ids double as worker ids, so the executer and the
// workers can name a node's owner without asking the manager again.
//
//	┌─────────────────────────────────────┐
//	│              MANAGER                │
//	├─────────────────────────────────────┤
//	│  ┌───────────────────────────────┐  │
//	│  │ WorkerRegistry                │  │
//	│  │ - fragment id → worker        │  │
//	│  │ - grpc addr → fragment id     │  │
//	│  └───────────────────────────────┘  │
//	│  ┌───────────────────────────────┐  │
//	│  │ HealthMonitor                 │  │
//	│  │ - periodic GET /health        │  │
//	│  │ - eviction after 3 failures   │  │
//	│  └───────────────────────────────┘  │
//	└─────────────────────────────────────┘
//
// # Core Components
//
// WorkerRegistry: fragment assignment
//   - Hands out the lowest free fragment id to a new worker
//   - Returns the same id to a worker that registers again
//   - Reports completeness once every fragment is served
//
// HealthMonitor: liveness tracking
//   - Probes each worker's admin endpoint on an interval
//   - Marks a worker unhealthy after consecutive failures
//   - Invokes a callback once per healthy to unhealthy transition
//
// # Failure Handling
//
// The manager binary wires the monitor's callback to WorkerRegistry.Evict.
// An evicted worker's fragment becomes free and the next worker to register
// takes it over by downloading the same fragment. Queries that were in
// flight on the evicted worker fail with a transport error on the executer
// and are aborted there.
package manager
