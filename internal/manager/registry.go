package manager

import (
	"cmp"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/waypoint/internal/cluster"
	"github.com/dreamware/waypoint/internal/graph"
)

var (
	// ErrRegistryFull is returned when every fragment already has a worker.
	ErrRegistryFull = errors.New("every fragment already has a worker")

	// ErrMissingAddr is returned for registrations without a gRPC address.
	ErrMissingAddr = errors.New("worker registration needs a grpc address")
)

// WorkerRegistry hands out fragment ids to registering workers and is the
// authoritative list of who serves which fragment.
//
// Fragment ids are dense in [0, fragments). A new worker receives the lowest
// id that is not taken, so a worker that replaces an evicted one inherits its
// fragment. Registrations are keyed by gRPC address: a worker that retries
// its registration gets the id it already holds.
//
// Thread Safety:
// All methods are safe for concurrent use. Returned WorkerInfo values are
// copies.
type WorkerRegistry struct {
	// workers maps a fragment id to the worker serving it.
	workers map[graph.WorkerID]cluster.WorkerInfo

	// byAddr maps a gRPC address back to its fragment id.
	byAddr map[string]graph.WorkerID

	mu sync.RWMutex

	// fragments is fixed when the graph is split.
	fragments int
}

// NewWorkerRegistry returns an empty registry for the given fragment count.
func NewWorkerRegistry(fragments int) *WorkerRegistry {
	return &WorkerRegistry{
		workers:   make(map[graph.WorkerID]cluster.WorkerInfo),
		byAddr:    make(map[string]graph.WorkerID),
		fragments: fragments,
	}
}

// Register assigns a fragment id to the worker at req.GRPCAddr.
//
// Returns:
//   - the WorkerInfo now on record; the admin address is refreshed on retries
//   - ErrMissingAddr if req has no gRPC address
//   - ErrRegistryFull if a new worker arrives after every fragment is taken
//
// Example:
//
//	info, err := registry.Register(cluster.RegisterRequest{
//	    GRPCAddr:  "10.0.0.7:50000",
//	    AdminAddr: "http://10.0.0.7:8081",
//	})
func (r *WorkerRegistry) Register(req cluster.RegisterRequest) (cluster.WorkerInfo, error) {
	if req.GRPCAddr == "" {
		return cluster.WorkerInfo{}, ErrMissingAddr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byAddr[req.GRPCAddr]; ok {
		info := r.workers[id]
		info.AdminAddr = req.AdminAddr
		r.workers[id] = info
		return info, nil
	}

	for i := 0; i < r.fragments; i++ {
		id := graph.WorkerID(i)
		if _, taken := r.workers[id]; taken {
			continue
		}
		info := cluster.WorkerInfo{ID: id, GRPCAddr: req.GRPCAddr, AdminAddr: req.AdminAddr}
		r.workers[id] = info
		r.byAddr[req.GRPCAddr] = id
		return info, nil
	}
	return cluster.WorkerInfo{}, fmt.Errorf("%w: %d fragments", ErrRegistryFull, r.fragments)
}

// Get returns the worker serving fragment id.
func (r *WorkerRegistry) Get(id graph.WorkerID) (cluster.WorkerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.workers[id]
	return info, ok
}

// List returns the registered workers sorted by fragment id.
func (r *WorkerRegistry) List() []cluster.WorkerInfo {
	r.mu.RLock()
	out := make([]cluster.WorkerInfo, 0, len(r.workers))
	for _, info := range r.workers {
		out = append(out, info)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b cluster.WorkerInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Complete reports whether every fragment has a worker.
func (r *WorkerRegistry) Complete() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers) == r.fragments
}

// Evict frees the fragment held by worker id so that a replacement can
// register for it. It reports whether the id was registered.
func (r *WorkerRegistry) Evict(id graph.WorkerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.workers[id]
	if !ok {
		return false
	}
	delete(r.workers, id)
	delete(r.byAddr, info.GRPCAddr)
	return true
}

// Fragments returns the number of fragments the graph was split into.
func (r *WorkerRegistry) Fragments() int {
	return r.fragments
}
