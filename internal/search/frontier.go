package search

import (
	"container/heap"

	"github.com/dreamware/waypoint/internal/graph"
)

type item struct {
	idx  graph.LocalIndex
	dist graph.Distance
}

// frontier is a binary min-heap on distance. Improved distances are pushed
// as new items and superseded ones are skipped when they surface.
type frontier []item

func (f frontier) Len() int           { return len(f) }
func (f frontier) Less(i, j int) bool { return f[i].dist < f[j].dist }
func (f frontier) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }

func (f *frontier) Push(x any) { *f = append(*f, x.(item)) }

func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	it := old[n-1]
	*f = old[:n-1]
	return it
}

func (f *frontier) push(idx graph.LocalIndex, d graph.Distance) {
	heap.Push(f, item{idx: idx, dist: d})
}

func (f *frontier) pop() item {
	return heap.Pop(f).(item)
}

func (f frontier) peek() item {
	return f[0]
}
