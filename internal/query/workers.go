package query

import (
	"cmp"
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/dreamware/waypoint/internal/graph"
	"github.com/dreamware/waypoint/internal/wire"
)

// Worker is the executer's handle on one registered worker.
type Worker struct {
	ID     graph.WorkerID
	Client wire.WorkerClient
}

// Workers is the fixed set of workers known to the executer, ordered by id.
// It is built once at startup and shared read-only by all queries.
type Workers struct {
	list []Worker
}

// NewWorkers sorts ws by id. Duplicate ids are rejected.
func NewWorkers(ws []Worker) (*Workers, error) {
	list := slices.Clone(ws)
	slices.SortFunc(list, func(a, b Worker) int { return cmp.Compare(a.ID, b.ID) })
	for i := 1; i < len(list); i++ {
		if list[i].ID == list[i-1].ID {
			return nil, fmt.Errorf("duplicate worker id %d", list[i].ID)
		}
	}
	return &Workers{list: list}, nil
}

// Len returns the number of workers
func (w *Workers) Len() int { return len(w.list) }

// At returns the worker at position i
func (w *Workers) At(i int) Worker { return w.list[i] }

// Find returns the position of the worker with the given id
func (w *Workers) Find(id graph.WorkerID) (int, bool) {
	return slices.BinarySearchFunc(w.list, id, func(e Worker, id graph.WorkerID) int {
		return cmp.Compare(e.ID, id)
	})
}
