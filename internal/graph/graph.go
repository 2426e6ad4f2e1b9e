package graph

import (
	"errors"
	"fmt"
)

// ErrNodeNotFound is returned when a node is not part of this partition
var ErrNodeNotFound = errors.New("node not found")

// ErrDuplicateNode is returned by Build when a node id appears twice
var ErrDuplicateNode = errors.New("duplicate node")

// ErrDanglingEdge is returned by Build when an edge cannot be resolved
var ErrDanglingEdge = errors.New("dangling edge")

// NodeID is the global, stable identifier of a node
type NodeID uint64

// WorkerID identifies the worker owning a partition
type WorkerID uint32

// LocalIndex is the position of a node inside one partition
type LocalIndex uint32

// Distance is an accumulated path length; edge weights share the type
type Distance uint64

// Coordinates of a node in degrees
type Coordinates struct {
	Lat float64 `json:"lat" msgpack:"lat"`
	Lon float64 `json:"lon" msgpack:"lon"`
}

// Target is the destination of an edge.
// A domestic target is addressed by Index, a foreign one by Node and Worker.
type Target struct {
	Foreign bool
	Index   LocalIndex
	Node    NodeID
	Worker  WorkerID
}

// Domestic returns a target inside the same partition
func Domestic(idx LocalIndex) Target {
	return Target{Index: idx}
}

// Foreign returns a target owned by another worker
func Foreign(node NodeID, worker WorkerID) Target {
	return Target{Foreign: true, Node: node, Worker: worker}
}

// Edge is one outgoing edge of a node
type Edge struct {
	Weight Distance
	To     Target
}

// Node is the payload stored for one local index
type Node struct {
	ID     NodeID
	Coords Coordinates
	Edges  []Edge
}

// Partition is the read-only view a worker has of its subgraph.
// Implementations must be safe for unlimited concurrent readers.
type Partition interface {
	// Worker returns the id of the worker owning the partition
	Worker() WorkerID

	// Len returns the number of nodes in the partition
	Len() int

	// Lookup resolves a node id to its local index
	// Returns ErrNodeNotFound if the node is not owned here
	Lookup(id NodeID) (LocalIndex, error)

	// Contains reports whether the node is owned here
	Contains(id NodeID) bool

	// Edges returns the outgoing edges of a local node
	Edges(idx LocalIndex) []Edge

	// Node returns the payload of a local node
	Node(idx LocalIndex) *Node
}

// Fragment is the immutable in-memory Partition built once at startup
type Fragment struct {
	worker WorkerID
	nodes  []Node
	index  map[NodeID]LocalIndex
}

// NodeRecord is the transport form of a node
type NodeRecord struct {
	ID  NodeID  `json:"id"`
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// EdgeRecord is the transport form of an edge.
// Worker is nil for edges whose target lives in the same fragment.
type EdgeRecord struct {
	From   NodeID    `json:"from"`
	To     NodeID    `json:"to"`
	Weight Distance  `json:"weight"`
	Worker *WorkerID `json:"worker,omitempty"`
}

// Build assembles a Fragment for worker from node and edge records.
// Every edge must start at a node of the fragment, and domestic edges
// must also end at one.
func Build(worker WorkerID, nodes []NodeRecord, edges []EdgeRecord) (*Fragment, error) {
	f := &Fragment{
		worker: worker,
		nodes:  make([]Node, 0, len(nodes)),
		index:  make(map[NodeID]LocalIndex, len(nodes)),
	}
	for _, n := range nodes {
		if _, dup := f.index[n.ID]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateNode, n.ID)
		}
		f.index[n.ID] = LocalIndex(len(f.nodes))
		f.nodes = append(f.nodes, Node{ID: n.ID, Coords: Coordinates{Lat: n.Lat, Lon: n.Lon}})
	}
	for _, e := range edges {
		from, ok := f.index[e.From]
		if !ok {
			return nil, fmt.Errorf("%w: source %d is not local", ErrDanglingEdge, e.From)
		}
		var to Target
		if e.Worker == nil || *e.Worker == worker {
			idx, ok := f.index[e.To]
			if !ok {
				return nil, fmt.Errorf("%w: %d -> %d", ErrDanglingEdge, e.From, e.To)
			}
			to = Domestic(idx)
		} else {
			to = Foreign(e.To, *e.Worker)
		}
		f.nodes[from].Edges = append(f.nodes[from].Edges, Edge{Weight: e.Weight, To: to})
	}
	return f, nil
}

// Worker returns the id of the owning worker
func (f *Fragment) Worker() WorkerID { return f.worker }

// Len returns the number of nodes
func (f *Fragment) Len() int { return len(f.nodes) }

// Lookup resolves a node id to its local index
func (f *Fragment) Lookup(id NodeID) (LocalIndex, error) {
	idx, ok := f.index[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	return idx, nil
}

// Contains reports whether id is owned by this fragment
func (f *Fragment) Contains(id NodeID) bool {
	_, ok := f.index[id]
	return ok
}

// Edges returns the outgoing edges of idx
func (f *Fragment) Edges(idx LocalIndex) []Edge {
	return f.nodes[idx].Edges
}

// Node returns the payload of idx
func (f *Fragment) Node(idx LocalIndex) *Node {
	return &f.nodes[idx]
}

// EdgeCount returns the total number of outgoing edges
func (f *Fragment) EdgeCount() int {
	n := 0
	for i := range f.nodes {
		n += len(f.nodes[i].Edges)
	}
	return n
}
