package partition

import (
	"fmt"

	"github.com/dreamware/waypoint/internal/graph"
)

// Fragment is what one worker receives: its nodes, and the edges leaving
// them with foreign targets tagged by owner.
type Fragment struct {
	Worker graph.WorkerID     `json:"worker_id"`
	Nodes  []graph.NodeRecord `json:"nodes"`
	Edges  []graph.EdgeRecord `json:"edges"`
}

// Split assigns every node of g to one of n workers with s and builds the
// per-worker fragments, indexed by worker id.
func Split(g *Graph, s Strategy, n int) ([]Fragment, error) {
	if n < 1 {
		return nil, fmt.Errorf("need at least one partition, got %d", n)
	}
	owners := s.Assign(g.Nodes, n)
	if len(owners) != len(g.Nodes) {
		return nil, fmt.Errorf("strategy %s assigned %d of %d nodes", s.Name(), len(owners), len(g.Nodes))
	}

	frags := make([]Fragment, n)
	for i := range frags {
		frags[i].Worker = graph.WorkerID(i)
	}
	owner := make(map[graph.NodeID]graph.WorkerID, len(g.Nodes))
	for i, node := range g.Nodes {
		w := owners[i]
		if int(w) >= n {
			return nil, fmt.Errorf("strategy %s assigned node %d to worker %d of %d", s.Name(), node.ID, w, n)
		}
		owner[node.ID] = w
		frags[w].Nodes = append(frags[w].Nodes, node)
	}
	for _, e := range g.Edges {
		src, dst := owner[e.From], owner[e.To]
		rec := graph.EdgeRecord{From: e.From, To: e.To, Weight: e.Weight}
		if src != dst {
			rec.Worker = &dst
		}
		frags[src].Edges = append(frags[src].Edges, rec)
	}
	return frags, nil
}

// Stats summarises a split
type Stats struct {
	Nodes        []int
	CrossEdges   int
	DomesticEdge int
}

// Summarize counts nodes per fragment and domestic versus cross edges.
func Summarize(frags []Fragment) Stats {
	st := Stats{Nodes: make([]int, len(frags))}
	for i, f := range frags {
		st.Nodes[i] = len(f.Nodes)
		for _, e := range f.Edges {
			if e.Worker != nil {
				st.CrossEdges++
			} else {
				st.DomesticEdge++
			}
		}
	}
	return st
}
