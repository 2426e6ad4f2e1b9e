package search

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/dreamware/waypoint/internal/graph"
	"github.com/dreamware/waypoint/internal/wire"
)

var (
	// ErrNoParent is returned when a backtrack walk reaches a node without a parent
	ErrNoParent = errors.New("no parent recorded")

	// ErrMisrouted is returned when a merged node is not owned by this worker
	ErrMisrouted = errors.New("node not owned by this worker")

	// ErrMissingDescriptor is returned when a round does not start with a descriptor
	ErrMissingDescriptor = errors.New("round must start with a search descriptor")

	// ErrDuplicateDescriptor is returned when a descriptor appears mid-round
	ErrDuplicateDescriptor = errors.New("duplicate search descriptor")

	// ErrEmptyMessage is returned for a search message with no payload
	ErrEmptyMessage = errors.New("empty search message")

	// ErrQueryFinished is returned for a round against a query that already succeeded
	ErrQueryFinished = errors.New("query already finished")
)

// ParentKind tells how a node was reached
type ParentKind uint8

const (
	// ParentRoot marks the start of the path
	ParentRoot ParentKind = iota
	// ParentDomestic marks a predecessor inside this partition
	ParentDomestic
	// ParentForeign marks a predecessor owned by another worker
	ParentForeign
)

// Parent is one recorded hop of the eventual path
type Parent struct {
	Kind   ParentKind
	Index  graph.LocalIndex // ParentDomestic
	Node   graph.NodeID     // ParentForeign
	Worker graph.WorkerID   // ParentForeign
}

// Outcome is what one relaxation pass reports back to the coordinator
type Outcome struct {
	Foreign   []wire.ForeignNode
	Watermark *graph.Distance
	Success   *wire.SuccessNode
}

// Processor is the local search state of one query on one worker.
// It is not safe for concurrent use; the registry hands it to exactly one
// holder at a time.
type Processor struct {
	part    graph.Partition
	query   wire.QueryID
	final   graph.NodeID
	bound   *graph.Distance
	queue   frontier
	dist    map[graph.LocalIndex]graph.Distance
	parents map[graph.LocalIndex]Parent
	relaxed *roaring.Bitmap
	// foreign keeps the best distance already reported per foreign node
	foreign  map[graph.NodeID]graph.Distance
	expanded uint64
	finished bool
}

// NewProcessor creates an empty processor searching for final
func NewProcessor(part graph.Partition, query wire.QueryID, final graph.NodeID) *Processor {
	return &Processor{
		part:    part,
		query:   query,
		final:   final,
		dist:    make(map[graph.LocalIndex]graph.Distance),
		parents: make(map[graph.LocalIndex]Parent),
		relaxed: roaring.New(),
		foreign: make(map[graph.NodeID]graph.Distance),
	}
}

// Query returns the id of the query this processor serves
func (p *Processor) Query() wire.QueryID { return p.query }

// Finished reports whether the final node was settled here
func (p *Processor) Finished() bool { return p.finished }

// Expanded returns how many nodes were popped and expanded so far
func (p *Processor) Expanded() uint64 { return p.expanded }

// Relaxed returns how many distinct nodes have been settled
func (p *Processor) Relaxed() uint64 { return p.relaxed.GetCardinality() }

// SetBound replaces the smallest foreign distance for the coming pass.
// nil means no other worker has pending work.
func (p *Processor) SetBound(b *graph.Distance) {
	if b == nil {
		p.bound = nil
		return
	}
	v := *b
	p.bound = &v
}

// Merge adds a node discovered by another worker to the frontier. Nodes
// already settled, or already known at an equal or shorter distance, are
// ignored.
func (p *Processor) Merge(n wire.DomesticNode) error {
	idx, err := p.part.Lookup(n.Node)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMisrouted, err)
	}
	if p.relaxed.Contains(uint32(idx)) {
		return nil
	}
	if d, ok := p.dist[idx]; ok && d <= n.Distance {
		return nil
	}
	parent := Parent{Kind: ParentRoot}
	if n.Parent != nil {
		parent = Parent{Kind: ParentForeign, Node: n.Parent.Node, Worker: n.Parent.Worker}
	}
	p.dist[idx] = n.Distance
	p.parents[idx] = parent
	p.queue.push(idx, n.Distance)
	return nil
}

// Relax runs one bounded Dijkstra pass. It stops when the smallest live
// frontier entry exceeds the bound, when the final node is settled, or when
// the frontier runs dry.
func (p *Processor) Relax() Outcome {
	var out Outcome
	if p.finished {
		return out
	}
	for p.queue.Len() > 0 {
		top := p.queue.peek()
		if p.relaxed.Contains(uint32(top.idx)) || p.dist[top.idx] != top.dist {
			p.queue.pop()
			continue
		}
		if p.bound != nil && *p.bound < top.dist {
			w := top.dist
			out.Watermark = &w
			return out
		}
		p.queue.pop()
		p.relaxed.Add(uint32(top.idx))
		p.expanded++

		node := p.part.Node(top.idx)
		if node.ID == p.final {
			p.finished = true
			out.Success = &wire.SuccessNode{Node: node.ID, Distance: top.dist}
			return out
		}
		for _, e := range node.Edges {
			nd := top.dist + e.Weight
			if e.To.Foreign {
				if sent, ok := p.foreign[e.To.Node]; ok && sent <= nd {
					continue
				}
				p.foreign[e.To.Node] = nd
				out.Foreign = append(out.Foreign, wire.ForeignNode{
					Node:     e.To.Node,
					Worker:   e.To.Worker,
					Distance: nd,
					Parent:   node.ID,
				})
				if p.bound == nil || nd < *p.bound {
					b := nd
					p.bound = &b
				}
				continue
			}
			if p.relaxed.Contains(uint32(e.To.Index)) {
				continue
			}
			if d, ok := p.dist[e.To.Index]; ok && d <= nd {
				continue
			}
			p.dist[e.To.Index] = nd
			p.parents[e.To.Index] = Parent{Kind: ParentDomestic, Index: top.idx}
			p.queue.push(e.To.Index, nd)
		}
	}
	return out
}

// Backtrack walks parent pointers starting at from and emits every
// predecessor. The walk ends at the path root or at the first predecessor
// owned by another worker; that hop carries the owner.
func (p *Processor) Backtrack(from graph.NodeID, emit func(wire.Hop) error) error {
	idx, err := p.part.Lookup(from)
	if err != nil {
		return err
	}
	for {
		parent, ok := p.parents[idx]
		if !ok {
			return fmt.Errorf("%w: node %d in query %d", ErrNoParent, p.part.Node(idx).ID, p.query)
		}
		switch parent.Kind {
		case ParentRoot:
			return nil
		case ParentDomestic:
			if err := emit(wire.Hop{Node: p.part.Node(parent.Index).ID}); err != nil {
				return err
			}
			idx = parent.Index
		case ParentForeign:
			w := parent.Worker
			return emit(wire.Hop{Node: parent.Node, Worker: &w})
		}
	}
}
