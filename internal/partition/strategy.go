package partition

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"sort"

	"github.com/dreamware/waypoint/internal/graph"
)

// Strategy decides which of n workers owns each node.
// Assign returns one worker per node, in node order.
type Strategy interface {
	Name() string
	Assign(nodes []graph.NodeRecord, n int) []graph.WorkerID
}

// ByName returns a built-in strategy: "grid", "quantile" or "hash".
func ByName(name string) (Strategy, error) {
	switch name {
	case "grid":
		return Grid{}, nil
	case "quantile":
		return Quantile{}, nil
	case "hash":
		return Hash{}, nil
	default:
		return nil, fmt.Errorf("unknown partition strategy %q", name)
	}
}

// Hash spreads nodes by FNV-1a of their id. Neighbouring nodes rarely share
// a worker, so it mostly serves to stress cross-partition traffic.
type Hash struct{}

func (Hash) Name() string { return "hash" }

func (Hash) Assign(nodes []graph.NodeRecord, n int) []graph.WorkerID {
	out := make([]graph.WorkerID, len(nodes))
	var buf [8]byte
	for i, node := range nodes {
		h := fnv.New32a()
		binary.LittleEndian.PutUint64(buf[:], uint64(node.ID))
		h.Write(buf[:])
		out[i] = graph.WorkerID(h.Sum32() % uint32(n))
	}
	return out
}

// Grid cuts the bounding box into latitude bands of equal height and each
// band into cells of equal width.
type Grid struct{}

func (Grid) Name() string { return "grid" }

func (Grid) Assign(nodes []graph.NodeRecord, n int) []graph.WorkerID {
	out := make([]graph.WorkerID, len(nodes))
	if len(nodes) == 0 {
		return out
	}
	latMin, latMax := nodes[0].Lat, nodes[0].Lat
	lonMin, lonMax := nodes[0].Lon, nodes[0].Lon
	for _, node := range nodes[1:] {
		latMin, latMax = math.Min(latMin, node.Lat), math.Max(latMax, node.Lat)
		lonMin, lonMax = math.Min(lonMin, node.Lon), math.Max(lonMax, node.Lon)
	}
	l := newLayout(n)
	for i, node := range nodes {
		row := bin(node.Lat, latMin, latMax, l.rows)
		col := bin(node.Lon, lonMin, lonMax, l.cols[row])
		out[i] = l.worker(row, col)
	}
	return out
}

// Quantile cuts latitude bands holding equal node counts, then cuts each
// band by longitude the same way, so every worker gets about len(nodes)/n
// nodes.
type Quantile struct{}

func (Quantile) Name() string { return "quantile" }

func (Quantile) Assign(nodes []graph.NodeRecord, n int) []graph.WorkerID {
	out := make([]graph.WorkerID, len(nodes))
	l := newLayout(n)

	order := make([]int, len(nodes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return nodes[order[a]].Lat < nodes[order[b]].Lat })

	for row, band := range chunks(order, l.rows) {
		sort.SliceStable(band, func(a, b int) bool { return nodes[band[a]].Lon < nodes[band[b]].Lon })
		for col, cell := range chunks(band, l.cols[row]) {
			for _, i := range cell {
				out[i] = l.worker(row, col)
			}
		}
	}
	return out
}

// layout places n cells in floor(sqrt(n)) bands; earlier bands take the
// remainder.
type layout struct {
	rows  int
	cols  []int
	first []int
}

func newLayout(n int) layout {
	rows := int(math.Sqrt(float64(n)))
	if rows < 1 {
		rows = 1
	}
	l := layout{rows: rows, cols: make([]int, rows), first: make([]int, rows)}
	next := 0
	for r := 0; r < rows; r++ {
		l.cols[r] = n / rows
		if r < n%rows {
			l.cols[r]++
		}
		l.first[r] = next
		next += l.cols[r]
	}
	return l
}

func (l layout) worker(row, col int) graph.WorkerID {
	return graph.WorkerID(l.first[row] + col)
}

// bin maps v in [lo, hi] onto one of k equal-width buckets.
func bin(v, lo, hi float64, k int) int {
	if hi <= lo || k <= 1 {
		return 0
	}
	b := int((v - lo) / (hi - lo) * float64(k))
	if b >= k {
		b = k - 1
	}
	if b < 0 {
		b = 0
	}
	return b
}

// chunks splits s into k contiguous parts whose sizes differ by at most one.
func chunks(s []int, k int) [][]int {
	out := make([][]int, k)
	for i := 0; i < k; i++ {
		lo := len(s) * i / k
		hi := len(s) * (i + 1) / k
		out[i] = s[lo:hi]
	}
	return out
}
