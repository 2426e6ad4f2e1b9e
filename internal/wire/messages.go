package wire

import "github.com/dreamware/waypoint/internal/graph"

// QueryID identifies one path request, assigned by the executer
type QueryID = uint32

// Empty is the reply of one-way calls
type Empty struct{}

// PresenceRequest asks a worker whether it owns the query endpoints
type PresenceRequest struct {
	From graph.NodeID `msgpack:"from"`
	To   graph.NodeID `msgpack:"to"`
}

// PresenceReply answers a PresenceRequest
type PresenceReply struct {
	FromPresent bool `msgpack:"from_present"`
	ToPresent   bool `msgpack:"to_present"`
}

// SearchDescriptor opens every UpdateSearch round
type SearchDescriptor struct {
	QueryID   QueryID         `msgpack:"query_id"`
	FinalNode graph.NodeID    `msgpack:"final_node"`
	Bound     *graph.Distance `msgpack:"bound,omitempty"`
}

// ParentRef points at the predecessor of a node on another worker
type ParentRef struct {
	Node   graph.NodeID   `msgpack:"node"`
	Worker graph.WorkerID `msgpack:"worker"`
}

// DomesticNode carries a node discovered elsewhere to the worker owning it.
// Parent is nil for the start of the path.
type DomesticNode struct {
	Node     graph.NodeID   `msgpack:"node"`
	Distance graph.Distance `msgpack:"distance"`
	Parent   *ParentRef     `msgpack:"parent,omitempty"`
}

// SearchRequest is one message of the coordinator side of a round.
// Exactly one field is set.
type SearchRequest struct {
	Descriptor *SearchDescriptor `msgpack:"descriptor,omitempty"`
	Node       *DomesticNode     `msgpack:"node,omitempty"`
}

// ForeignNode reports a node owned by Worker reached from Parent
type ForeignNode struct {
	Node     graph.NodeID   `msgpack:"node"`
	Worker   graph.WorkerID `msgpack:"worker"`
	Distance graph.Distance `msgpack:"distance"`
	Parent   graph.NodeID   `msgpack:"parent"`
}

// SuccessNode reports that the final node was settled
type SuccessNode struct {
	Node     graph.NodeID   `msgpack:"node"`
	Distance graph.Distance `msgpack:"distance"`
}

// SearchReply is one message of the worker side of a round.
// Exactly one field is set.
type SearchReply struct {
	Foreign   *ForeignNode    `msgpack:"foreign,omitempty"`
	Watermark *graph.Distance `msgpack:"watermark,omitempty"`
	Success   *SuccessNode    `msgpack:"success,omitempty"`
}

// ForgetRequest drops all state of a query on a worker
type ForgetRequest struct {
	QueryID QueryID `msgpack:"query_id"`
}

// BacktrackRequest starts a parent walk at From
type BacktrackRequest struct {
	QueryID QueryID      `msgpack:"query_id"`
	From    graph.NodeID `msgpack:"from"`
}

// Hop is one predecessor yielded by a worker-side walk.
// Worker is set when the predecessor is owned by another worker, which
// ends the walk on this worker.
type Hop struct {
	Node   graph.NodeID    `msgpack:"node"`
	Worker *graph.WorkerID `msgpack:"worker,omitempty"`
}

// CoordinatesRequest looks up coordinates of local nodes
type CoordinatesRequest struct {
	Nodes []graph.NodeID `msgpack:"nodes"`
}

// CoordinatesReply holds coordinates in request order
type CoordinatesReply struct {
	Coords []graph.Coordinates `msgpack:"coords"`
}

// PathRequest is the client-facing shortest path query
type PathRequest struct {
	From graph.NodeID `msgpack:"from"`
	To   graph.NodeID `msgpack:"to"`
}

// PathReply answers a PathRequest. Distance is nil when the destination is
// unreachable; QueryID is nil when no state was retained.
type PathReply struct {
	Distance *graph.Distance `msgpack:"distance,omitempty"`
	QueryID  *QueryID        `msgpack:"query_id,omitempty"`
}

// QueryRef names a query retained by the executer
type QueryRef struct {
	QueryID QueryID `msgpack:"query_id"`
}

// PathHop is one node of a reconstructed path with its owner
type PathHop struct {
	Node   graph.NodeID   `msgpack:"node"`
	Worker graph.WorkerID `msgpack:"worker"`
}

// CoordinatesLookup resolves coordinates of path hops through their owners
type CoordinatesLookup struct {
	Hops []PathHop `msgpack:"hops"`
}
