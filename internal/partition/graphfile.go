package partition

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/dreamware/waypoint/internal/graph"
)

// ErrSyntax is returned for malformed graph file lines
var ErrSyntax = errors.New("graph file syntax error")

// Edge is a directed weighted edge of the whole graph
type Edge struct {
	From   graph.NodeID
	To     graph.NodeID
	Weight graph.Distance
}

// Graph is the whole graph as read by the manager
type Graph struct {
	Nodes []graph.NodeRecord
	Edges []Edge
}

// Load reads a graph file. Files ending in .zst are zstd-compressed.
//
// The format is line based:
//
//	# comment
//	n <id> <lat> <lon>
//	e <from> <to> <weight>
func Load(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		defer dec.Close()
		r = dec
	}
	g, err := Read(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// Read parses a graph from r and checks that every edge joins known nodes.
func Read(r io.Reader) (*Graph, error) {
	g := &Graph{}
	seen := make(map[graph.NodeID]struct{})
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "n":
			n, err := parseNode(fields)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			if _, dup := seen[n.ID]; dup {
				return nil, fmt.Errorf("line %d: %w: %d", line, graph.ErrDuplicateNode, n.ID)
			}
			seen[n.ID] = struct{}{}
			g.Nodes = append(g.Nodes, n)
		case "e":
			e, err := parseEdge(fields)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			g.Edges = append(g.Edges, e)
		default:
			return nil, fmt.Errorf("line %d: %w: unknown record %q", line, ErrSyntax, fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	for _, e := range g.Edges {
		_, okFrom := seen[e.From]
		_, okTo := seen[e.To]
		if !okFrom || !okTo {
			return nil, fmt.Errorf("%w: %d -> %d", graph.ErrDanglingEdge, e.From, e.To)
		}
	}
	return g, nil
}

func parseNode(f []string) (graph.NodeRecord, error) {
	if len(f) != 4 {
		return graph.NodeRecord{}, fmt.Errorf("%w: node needs id, lat and lon", ErrSyntax)
	}
	id, err := strconv.ParseUint(f[1], 10, 64)
	if err != nil {
		return graph.NodeRecord{}, fmt.Errorf("%w: node id: %v", ErrSyntax, err)
	}
	lat, err := strconv.ParseFloat(f[2], 64)
	if err != nil {
		return graph.NodeRecord{}, fmt.Errorf("%w: lat: %v", ErrSyntax, err)
	}
	lon, err := strconv.ParseFloat(f[3], 64)
	if err != nil {
		return graph.NodeRecord{}, fmt.Errorf("%w: lon: %v", ErrSyntax, err)
	}
	return graph.NodeRecord{ID: graph.NodeID(id), Lat: lat, Lon: lon}, nil
}

func parseEdge(f []string) (Edge, error) {
	if len(f) != 4 {
		return Edge{}, fmt.Errorf("%w: edge needs from, to and weight", ErrSyntax)
	}
	var v [3]uint64
	for i := range v {
		n, err := strconv.ParseUint(f[i+1], 10, 64)
		if err != nil {
			return Edge{}, fmt.Errorf("%w: edge field %d: %v", ErrSyntax, i+1, err)
		}
		v[i] = n
	}
	return Edge{From: graph.NodeID(v[0]), To: graph.NodeID(v[1]), Weight: graph.Distance(v[2])}, nil
}
