package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/waypoint/internal/graph"
	"github.com/dreamware/waypoint/internal/wire"
)

var (
	// ErrEndpointNotFound is returned when no worker owns a query endpoint
	ErrEndpointNotFound = errors.New("endpoint not found")

	// ErrPartitionOverlap is returned when two workers claim the same node
	ErrPartitionOverlap = errors.New("node owned by more than one worker")

	// ErrUnknownWorker is returned when a worker reports a node owned by an unregistered worker
	ErrUnknownWorker = errors.New("unknown worker")

	// ErrNoPath is returned when backtracking a query that found no path
	ErrNoPath = errors.New("no path found")
)

// forgetFanout caps concurrent ForgetQuery calls of one query.
const forgetFanout = 16

// Round records one accepted UpdateSearch exchange.
type Round struct {
	Worker  graph.WorkerID
	Minimal graph.Distance  // estimate of the contacted worker when it was picked
	Bound   *graph.Distance // smallest estimate among the other workers
}

// workerState is what the coordinator tracks per worker.
type workerState struct {
	pending  []wire.DomesticNode
	minimal  *graph.Distance
	involved bool
}

// Coordinator drives one query across the workers. It is owned by a single
// goroutine at a time; the manager's registry hands it out.
type Coordinator struct {
	id      wire.QueryID
	from    graph.NodeID
	to      graph.NodeID
	workers *Workers
	state   []workerState
	fromW   int
	toW     int
	last    int
	result  *graph.Distance
	done    bool
	trace   []Round
	log     *slog.Logger
}

// NewCoordinator creates the state of query id between from and to.
func NewCoordinator(id wire.QueryID, from, to graph.NodeID, workers *Workers, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		id:      id,
		from:    from,
		to:      to,
		workers: workers,
		state:   make([]workerState, workers.Len()),
		fromW:   -1,
		toW:     -1,
		last:    -1,
		log:     logger.With("query_id", id),
	}
}

// ID returns the query id
func (c *Coordinator) ID() wire.QueryID { return c.id }

// Locate asks every worker whether it owns the endpoints.
func (c *Coordinator) Locate(ctx context.Context) error {
	replies := make([]*wire.PresenceReply, c.workers.Len())
	g, gctx := errgroup.WithContext(ctx)
	for i := range replies {
		g.Go(func() error {
			r, err := c.workers.At(i).Client.AreNodesPresent(gctx, &wire.PresenceRequest{From: c.from, To: c.to})
			if err != nil {
				return fmt.Errorf("presence check on worker %d: %w", c.workers.At(i).ID, err)
			}
			replies[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, r := range replies {
		if r.FromPresent {
			if c.fromW >= 0 {
				return c.overlap(c.from, c.fromW, i)
			}
			c.fromW = i
		}
		if r.ToPresent {
			if c.toW >= 0 {
				return c.overlap(c.to, c.toW, i)
			}
			c.toW = i
		}
	}
	if c.fromW < 0 {
		return fmt.Errorf("%w: node %d", ErrEndpointNotFound, c.from)
	}
	if c.toW < 0 {
		return fmt.Errorf("%w: node %d", ErrEndpointNotFound, c.to)
	}
	return nil
}

func (c *Coordinator) overlap(node graph.NodeID, a, b int) error {
	return fmt.Errorf("%w: node %d claimed by workers %d and %d",
		ErrPartitionOverlap, node, c.workers.At(a).ID, c.workers.At(b).ID)
}

// Run executes rounds until the destination is settled or no worker has
// pending work. It returns nil when the destination is unreachable.
// Locate must have succeeded first.
func (c *Coordinator) Run(ctx context.Context) (*graph.Distance, error) {
	start := graph.Distance(0)
	c.state[c.fromW].pending = append(c.state[c.fromW].pending, wire.DomesticNode{Node: c.from})
	c.state[c.fromW].minimal = &start

	current := c.fromW
	for {
		bound := c.smallestExcept(current)
		c.trace = append(c.trace, Round{
			Worker:  c.workers.At(current).ID,
			Minimal: *c.state[current].minimal,
			Bound:   bound,
		})

		res, err := c.round(ctx, current, bound)
		if err != nil {
			return nil, fmt.Errorf("round %d on worker %d: %w", len(c.trace), c.workers.At(current).ID, err)
		}
		if res.success != nil {
			d := res.success.Distance
			c.result, c.last, c.done = &d, current, true
			c.log.Debug("destination settled", "distance", d, "worker_id", c.workers.At(current).ID, "rounds", len(c.trace))
			return c.result, nil
		}
		if err := c.distribute(current, res.foreign); err != nil {
			return nil, err
		}
		if res.watermark != nil {
			c.state[current].minimal = minDistance(c.state[current].minimal, *res.watermark)
		}

		next := c.smallest()
		if next < 0 {
			c.done = true
			c.log.Debug("destination unreachable", "rounds", len(c.trace))
			return nil, nil
		}
		current = next
	}
}

type roundResult struct {
	foreign   []wire.ForeignNode
	watermark *graph.Distance
	success   *wire.SuccessNode
}

// round sends the pending buffer of worker i in one UpdateSearch exchange.
func (c *Coordinator) round(ctx context.Context, i int, bound *graph.Distance) (roundResult, error) {
	var res roundResult
	st := &c.state[i]
	st.involved = true

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := c.workers.At(i).Client.UpdateSearch(ctx)
	if err != nil {
		return res, err
	}

	msgs := make([]*wire.SearchRequest, 0, len(st.pending)+1)
	msgs = append(msgs, &wire.SearchRequest{Descriptor: &wire.SearchDescriptor{
		QueryID:   c.id,
		FinalNode: c.to,
		Bound:     bound,
	}})
	for j := range st.pending {
		msgs = append(msgs, &wire.SearchRequest{Node: &st.pending[j]})
	}
	for _, m := range msgs {
		// io.EOF means the worker ended the stream; its status comes from Recv.
		if err := stream.Send(m); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return res, err
		}
	}
	if err := stream.CloseSend(); err != nil {
		return res, err
	}
	st.pending = nil
	st.minimal = nil

	for {
		reply, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return res, err
		}
		switch {
		case reply.Foreign != nil:
			res.foreign = append(res.foreign, *reply.Foreign)
		case reply.Watermark != nil:
			res.watermark = reply.Watermark
		case reply.Success != nil:
			res.success = reply.Success
		}
	}
}

// distribute queues foreign nodes reported by worker i for their owners.
func (c *Coordinator) distribute(i int, nodes []wire.ForeignNode) error {
	reporter := c.workers.At(i).ID
	for _, f := range nodes {
		j, ok := c.workers.Find(f.Worker)
		if !ok {
			return fmt.Errorf("%w: %d reported by worker %d", ErrUnknownWorker, f.Worker, reporter)
		}
		dst := &c.state[j]
		dst.pending = append(dst.pending, wire.DomesticNode{
			Node:     f.Node,
			Distance: f.Distance,
			Parent:   &wire.ParentRef{Node: f.Parent, Worker: reporter},
		})
		dst.minimal = minDistance(dst.minimal, f.Distance)
	}
	return nil
}

// smallestExcept returns the smallest estimate over all workers but skip.
func (c *Coordinator) smallestExcept(skip int) *graph.Distance {
	var best *graph.Distance
	for i := range c.state {
		if i == skip || c.state[i].minimal == nil {
			continue
		}
		best = minDistance(best, *c.state[i].minimal)
	}
	return best
}

// smallest returns the worker with the smallest estimate, or -1.
func (c *Coordinator) smallest() int {
	best := -1
	for i := range c.state {
		m := c.state[i].minimal
		if m == nil {
			continue
		}
		if best < 0 || *m < *c.state[best].minimal {
			best = i
		}
	}
	return best
}

func minDistance(cur *graph.Distance, d graph.Distance) *graph.Distance {
	if cur != nil && *cur <= d {
		return cur
	}
	return &d
}

// Backtrack emits the path from the destination back to the origin, one
// hop per node, each tagged with the worker owning it.
func (c *Coordinator) Backtrack(ctx context.Context, emit func(wire.PathHop) error) error {
	if c.result == nil {
		return fmt.Errorf("%w: query %d", ErrNoPath, c.id)
	}
	node, wi := c.to, c.last
	if err := emit(wire.PathHop{Node: node, Worker: c.workers.At(wi).ID}); err != nil {
		return err
	}
	for {
		next, crossed, err := c.walk(ctx, wi, node, emit)
		if err != nil {
			return err
		}
		if crossed == nil {
			return nil
		}
		j, ok := c.workers.Find(*crossed)
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownWorker, *crossed)
		}
		node, wi = next, j
	}
}

// walk replays parents on worker i from node. It returns the last node
// reached and, when the walk left the partition, the worker owning it.
func (c *Coordinator) walk(ctx context.Context, i int, node graph.NodeID, emit func(wire.PathHop) error) (graph.NodeID, *graph.WorkerID, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := c.workers.At(i)
	stream, err := w.Client.Backtrack(ctx, &wire.BacktrackRequest{QueryID: c.id, From: node})
	if err != nil {
		return node, nil, err
	}
	var crossed *graph.WorkerID
	for {
		hop, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return node, crossed, nil
		}
		if err != nil {
			return node, nil, fmt.Errorf("backtrack on worker %d: %w", w.ID, err)
		}
		owner := w.ID
		if hop.Worker != nil {
			owner = *hop.Worker
			crossed = hop.Worker
		}
		node = hop.Node
		if err := emit(wire.PathHop{Node: node, Worker: owner}); err != nil {
			return node, nil, err
		}
	}
}

// Forget tells every involved worker to drop the query. Delivery failures
// are logged and counted, never returned.
func (c *Coordinator) Forget(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(forgetFanout)
	for i := range c.state {
		if !c.state[i].involved {
			continue
		}
		w := c.workers.At(i)
		g.Go(func() error {
			if _, err := w.Client.ForgetQuery(ctx, &wire.ForgetRequest{QueryID: c.id}); err != nil {
				forgetFailures.Inc()
				c.log.Warn("forget not delivered", "worker_id", w.ID, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Involved returns the ids of workers that took part in at least one round
func (c *Coordinator) Involved() []graph.WorkerID {
	var out []graph.WorkerID
	for i := range c.state {
		if c.state[i].involved {
			out = append(out, c.workers.At(i).ID)
		}
	}
	return out
}

// Trace returns the rounds run so far
func (c *Coordinator) Trace() []Round {
	return append([]Round(nil), c.trace...)
}

// Done reports whether Run has finished
func (c *Coordinator) Done() bool { return c.done }
