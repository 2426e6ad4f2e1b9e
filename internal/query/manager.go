package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/waypoint/internal/graph"
	"github.com/dreamware/waypoint/internal/lease"
	"github.com/dreamware/waypoint/internal/wire"
)

// ErrInvalidHop is returned when a coordinate lookup names an unknown worker
var ErrInvalidHop = errors.New("hop names an unknown worker")

// Manager owns every query the executer has accepted and not yet forgotten.
type Manager struct {
	workers      *Workers
	next         atomic.Uint32
	coordinators *lease.Registry[wire.QueryID, *Coordinator]
	log          *slog.Logger
}

// NewManager creates a manager over a fixed worker set.
func NewManager(workers *Workers, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		workers:      workers,
		coordinators: lease.New[wire.QueryID, *Coordinator](),
		log:          logger,
	}
}

// ActiveQueries returns the number of retained queries
func (m *Manager) ActiveQueries() int { return m.coordinators.Len() }

// ShortestPath answers a query from -> to. The distance is nil when the
// destination is unreachable. The query id is nil when no state was kept,
// which only happens for from == to.
func (m *Manager) ShortestPath(ctx context.Context, from, to graph.NodeID) (*graph.Distance, *wire.QueryID, error) {
	if from == to {
		zero := graph.Distance(0)
		queriesTotal.WithLabelValues("trivial").Inc()
		return &zero, nil, nil
	}

	id := m.next.Add(1)
	if err := m.coordinators.Insert(id); err != nil {
		return nil, nil, fmt.Errorf("register query %d: %w", id, err)
	}
	start := time.Now()
	c := NewCoordinator(id, from, to, m.workers, m.log)

	if err := c.Locate(ctx); err != nil {
		m.coordinators.Remove(id)
		m.observe("failed", start)
		return nil, nil, err
	}
	d, err := c.Run(ctx)
	queryRounds.Observe(float64(len(c.trace)))
	if err != nil {
		m.coordinators.Remove(id)
		c.Forget(context.WithoutCancel(ctx))
		m.observe("failed", start)
		m.log.Warn("query aborted", "query_id", id, "from", from, "to", to, "err", err)
		return nil, nil, err
	}
	m.release(ctx, id, c)

	result := "found"
	if d == nil {
		result = "unreachable"
	}
	m.observe(result, start)
	m.log.Info("query answered", "query_id", id, "from", from, "to", to, "result", result, "rounds", len(c.trace))
	return d, &id, nil
}

func (m *Manager) observe(result string, start time.Time) {
	queriesTotal.WithLabelValues(result).Inc()
	queryDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
}

// Backtrack streams the path of a finished query from destination to
// origin.
func (m *Manager) Backtrack(ctx context.Context, id wire.QueryID, emit func(wire.PathHop) error) error {
	c, err := m.coordinators.Acquire(id)
	if err != nil {
		return fmt.Errorf("query %d: %w", id, err)
	}
	defer m.release(ctx, id, c)
	return c.Backtrack(ctx, emit)
}

// release parks c again. A query forgotten while it was busy is dropped by
// the registry, and its workers are told here.
func (m *Manager) release(ctx context.Context, id wire.QueryID, c *Coordinator) {
	if !m.coordinators.Release(id, c) {
		c.Forget(context.WithoutCancel(ctx))
		m.log.Debug("query forgotten while busy", "query_id", id)
	}
}

// Path returns the path of a finished query from origin to destination.
func (m *Manager) Path(ctx context.Context, id wire.QueryID) ([]wire.PathHop, error) {
	var hops []wire.PathHop
	err := m.Backtrack(ctx, id, func(h wire.PathHop) error {
		hops = append(hops, h)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(hops)
	return hops, nil
}

// Forget drops a query and tells the workers that took part in it.
func (m *Manager) Forget(ctx context.Context, id wire.QueryID) error {
	c, err := m.coordinators.Forget(id)
	if err != nil {
		return fmt.Errorf("query %d: %w", id, err)
	}
	c.Forget(ctx)
	m.log.Debug("query forgotten", "query_id", id)
	return nil
}

// Coordinates looks up the coordinates of path hops, asking each owner
// for its nodes concurrently. The result follows the order of hops.
func (m *Manager) Coordinates(ctx context.Context, hops []wire.PathHop) ([]graph.Coordinates, error) {
	type batch struct {
		positions []int
		nodes     []graph.NodeID
	}
	batches := make(map[int]*batch)
	for pos, h := range hops {
		i, ok := m.workers.Find(h.Worker)
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrInvalidHop, h.Worker)
		}
		b := batches[i]
		if b == nil {
			b = &batch{}
			batches[i] = b
		}
		b.positions = append(b.positions, pos)
		b.nodes = append(b.nodes, h.Node)
	}

	out := make([]graph.Coordinates, len(hops))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range batches {
		w := m.workers.At(i)
		g.Go(func() error {
			reply, err := w.Client.GetCoordinates(gctx, &wire.CoordinatesRequest{Nodes: b.nodes})
			if err != nil {
				return fmt.Errorf("coordinates from worker %d: %w", w.ID, err)
			}
			if len(reply.Coords) != len(b.nodes) {
				return fmt.Errorf("worker %d returned %d coordinates for %d nodes", w.ID, len(reply.Coords), len(b.nodes))
			}
			for k, pos := range b.positions {
				out[pos] = reply.Coords[k]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
