package query

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/dreamware/waypoint/internal/graph"
	"github.com/dreamware/waypoint/internal/search"
	"github.com/dreamware/waypoint/internal/wire"
)

const bufSize = 1024 * 1024

var discard = slog.New(slog.DiscardHandler)

type edge struct {
	from, to graph.NodeID
	weight   graph.Distance
}

type testCluster struct {
	manager  *Manager
	workers  *Workers
	services map[graph.WorkerID]*search.Service
}

// dial starts a server set up by register on an in-memory listener and
// returns a connection to it.
func dial(t *testing.T, register func(*grpc.Server), opts ...grpc.ServerOption) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	srv := grpc.NewServer(opts...)
	register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// startFragments runs one worker service per fragment and a manager over them.
func startFragments(t *testing.T, frags []*graph.Fragment) *testCluster {
	t.Helper()
	tc := &testCluster{services: make(map[graph.WorkerID]*search.Service)}
	var ws []Worker
	for _, f := range frags {
		svc := search.NewService(f, search.NewPoolSize(2), discard)
		conn := dial(t, func(s *grpc.Server) { wire.RegisterWorkerServer(s, svc) })
		tc.services[f.Worker()] = svc
		ws = append(ws, Worker{ID: f.Worker(), Client: wire.NewWorkerClient(conn)})
	}
	workers, err := NewWorkers(ws)
	require.NoError(t, err)
	tc.workers = workers
	tc.manager = NewManager(workers, discard)
	return tc
}

// startCluster splits the graph by owner and starts one worker per owner.
func startCluster(t *testing.T, owner map[graph.NodeID]graph.WorkerID, edges []edge) *testCluster {
	t.Helper()
	nodes := make(map[graph.WorkerID][]graph.NodeRecord)
	for _, id := range sortedNodes(owner) {
		w := owner[id]
		nodes[w] = append(nodes[w], graph.NodeRecord{ID: id, Lat: float64(id), Lon: float64(w)})
	}
	recs := make(map[graph.WorkerID][]graph.EdgeRecord)
	for _, e := range edges {
		src, dst := owner[e.from], owner[e.to]
		r := graph.EdgeRecord{From: e.from, To: e.to, Weight: e.weight}
		if src != dst {
			r.Worker = &dst
		}
		recs[src] = append(recs[src], r)
	}

	var frags []*graph.Fragment
	for w, ns := range nodes {
		f, err := graph.Build(w, ns, recs[w])
		require.NoError(t, err)
		frags = append(frags, f)
	}
	return startFragments(t, frags)
}

func (tc *testCluster) workerQueries() int {
	n := 0
	for _, s := range tc.services {
		n += s.ActiveQueries()
	}
	return n
}

func sortedNodes(owner map[graph.NodeID]graph.WorkerID) []graph.NodeID {
	ids := make([]graph.NodeID, 0, len(owner))
	for id := range owner {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// reference computes single-source distances on the whole graph.
func reference(n int, edges []edge, from graph.NodeID) map[graph.NodeID]graph.Distance {
	adj := make(map[graph.NodeID][]edge)
	for _, e := range edges {
		adj[e.from] = append(adj[e.from], e)
	}
	dist := map[graph.NodeID]graph.Distance{from: 0}
	done := make(map[graph.NodeID]bool)
	for len(done) < n {
		var u graph.NodeID
		found := false
		for v, d := range dist {
			if done[v] {
				continue
			}
			if !found || d < dist[u] || (d == dist[u] && v < u) {
				u, found = v, true
			}
		}
		if !found {
			break
		}
		done[u] = true
		for _, e := range adj[u] {
			nd := dist[u] + e.weight
			if cur, ok := dist[e.to]; !ok || nd < cur {
				dist[e.to] = nd
			}
		}
	}
	return dist
}

func randomGraph(rng *rand.Rand, n, degree int) []edge {
	var edges []edge
	for u := 0; u < n; u++ {
		for k := 0; k < degree; k++ {
			v := rng.IntN(n)
			if v == u {
				continue
			}
			edges = append(edges, edge{from: graph.NodeID(u), to: graph.NodeID(v), weight: graph.Distance(rng.IntN(20))})
		}
	}
	return edges
}

func randomOwners(rng *rand.Rand, n, workers int) map[graph.NodeID]graph.WorkerID {
	owner := make(map[graph.NodeID]graph.WorkerID, n)
	for u := 0; u < n; u++ {
		owner[graph.NodeID(u)] = graph.WorkerID(rng.IntN(workers))
	}
	// every worker owns at least one node
	for w := 0; w < workers && w < n; w++ {
		owner[graph.NodeID(w)] = graph.WorkerID(w)
	}
	return owner
}

// pathWeight sums the cheapest edge between consecutive hops.
func pathWeight(t *testing.T, edges []edge, hops []wire.PathHop) graph.Distance {
	t.Helper()
	cheapest := make(map[[2]graph.NodeID]graph.Distance)
	for _, e := range edges {
		k := [2]graph.NodeID{e.from, e.to}
		if w, ok := cheapest[k]; !ok || e.weight < w {
			cheapest[k] = e.weight
		}
	}
	var total graph.Distance
	for i := 1; i < len(hops); i++ {
		w, ok := cheapest[[2]graph.NodeID{hops[i-1].Node, hops[i].Node}]
		require.True(t, ok, "no edge %d -> %d", hops[i-1].Node, hops[i].Node)
		total += w
	}
	return total
}
