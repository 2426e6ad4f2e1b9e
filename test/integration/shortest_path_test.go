// Package integration runs a complete waypoint deployment out of process:
// one manager, two workers and one executer, talking over real sockets.
package integration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/dreamware/waypoint/internal/graph"
	"github.com/dreamware/waypoint/internal/wire"
)

// Nodes 1 and 2 sit west of nodes 3 and 4, so a two-way grid split puts
// {1,2} on worker 0 and {3,4} on worker 1.
const exampleGraph = `# two fragments joined by 2 -> 3
n 1 0.0 0.0
n 2 0.0 1.0
n 3 0.0 9.0
n 4 0.0 10.0
n 5 0.0 5.0
e 1 2 1
e 2 3 5
e 3 4 2
e 1 4 20
`

type TestSystem struct {
	t          *testing.T
	bin        string
	procs      []*exec.Cmd
	managerURL string
	executer   string
	httpClient *http.Client
}

func NewTestSystem(t *testing.T) *TestSystem {
	return &TestSystem{
		t:          t,
		bin:        t.TempDir(),
		managerURL: "http://127.0.0.1:18180", // high ports to avoid conflicts
		executer:   "127.0.0.1:18151",
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// build compiles the three binaries from the repository root.
func (ts *TestSystem) build() error {
	root, err := filepath.Abs(filepath.Join("..", ".."))
	if err != nil {
		return err
	}
	for _, name := range []string{"manager", "worker", "executer"} {
		cmd := exec.Command("go", "build", "-o", filepath.Join(ts.bin, name), "./cmd/"+name)
		cmd.Dir = root
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("build %s: %w", name, err)
		}
	}
	return nil
}

func (ts *TestSystem) spawn(name string, env ...string) error {
	cmd := exec.Command(filepath.Join(ts.bin, name))
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	ts.procs = append(ts.procs, cmd)
	return nil
}

func (ts *TestSystem) Start() error {
	if err := ts.build(); err != nil {
		return err
	}

	graphFile := filepath.Join(ts.bin, "example.graph")
	if err := os.WriteFile(graphFile, []byte(exampleGraph), 0o644); err != nil {
		return err
	}

	ts.t.Log("Starting manager...")
	if err := ts.spawn("manager",
		"MANAGER_ADDR=127.0.0.1:18180",
		"GRAPH_FILE="+graphFile,
		"PARTITIONS=2",
		"PARTITION_STRATEGY=grid",
	); err != nil {
		return err
	}
	if err := ts.waitForService(ts.managerURL + "/health"); err != nil {
		return fmt.Errorf("manager failed to start: %w", err)
	}

	for i := 0; i < 2; i++ {
		ts.t.Logf("Starting worker %d...", i)
		admin := fmt.Sprintf("127.0.0.1:1818%d", i+1)
		if err := ts.spawn("worker",
			"MANAGER_ADDR="+ts.managerURL,
			fmt.Sprintf("WORKER_GRPC_LISTEN=127.0.0.1:1816%d", i),
			fmt.Sprintf("WORKER_GRPC_ADDR=127.0.0.1:1816%d", i),
			"WORKER_ADMIN_LISTEN="+admin,
			"WORKER_ADMIN_ADDR=http://"+admin,
		); err != nil {
			return err
		}
		if err := ts.waitForService("http://" + admin + "/health"); err != nil {
			return fmt.Errorf("worker %d failed to start: %w", i, err)
		}
	}

	ts.t.Log("Starting executer...")
	if err := ts.spawn("executer",
		"MANAGER_ADDR="+ts.managerURL,
		"EXECUTER_LISTEN="+ts.executer,
		"EXECUTER_ADMIN_LISTEN=127.0.0.1:18190",
	); err != nil {
		return err
	}
	return ts.waitForService("http://127.0.0.1:18190/health")
}

func (ts *TestSystem) Stop() {
	for i := len(ts.procs) - 1; i >= 0; i-- {
		p := ts.procs[i]
		if p.Process != nil {
			_ = p.Process.Kill()
			_ = p.Wait()
		}
	}
}

func (ts *TestSystem) waitForService(url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %s", url)
		default:
			resp, err := ts.httpClient.Get(url)
			if err == nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return nil
				}
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
}

func (ts *TestSystem) client() wire.ExecuterClient {
	conn, err := grpc.NewClient(ts.executer, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(ts.t, err)
	ts.t.Cleanup(func() { _ = conn.Close() })
	return wire.NewExecuterClient(conn)
}

func backtrack(ctx context.Context, c wire.ExecuterClient, id wire.QueryID) ([]wire.PathHop, error) {
	stream, err := c.BacktrackPath(ctx, &wire.QueryRef{QueryID: id})
	if err != nil {
		return nil, err
	}
	var hops []wire.PathHop
	for {
		hop, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return hops, nil
		}
		if err != nil {
			return nil, err
		}
		hops = append(hops, *hop)
	}
}

func TestShortestPath(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("Skipping integration test: go toolchain not on PATH")
	}

	ts := NewTestSystem(t)
	defer ts.Stop()
	if err := ts.Start(); err != nil {
		t.Fatalf("Failed to start test system: %v", err)
	}
	c := ts.client()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	t.Run("CrossPartitionPath", func(t *testing.T) {
		reply, err := c.ShortestPathQuery(ctx, &wire.PathRequest{From: 1, To: 4})
		require.NoError(t, err)
		require.NotNil(t, reply.Distance)
		require.NotNil(t, reply.QueryID)
		assert.Equal(t, graph.Distance(8), *reply.Distance)

		hops, err := backtrack(ctx, c, *reply.QueryID)
		require.NoError(t, err)
		var nodes []graph.NodeID
		for _, h := range hops {
			nodes = append(nodes, h.Node)
		}
		assert.Equal(t, []graph.NodeID{4, 3, 2, 1}, nodes, "hops arrive from the destination back")
		assert.Equal(t, graph.WorkerID(1), hops[0].Worker)
		assert.Equal(t, graph.WorkerID(0), hops[3].Worker)

		coords, err := c.GetCoordinates(ctx, &wire.CoordinatesLookup{Hops: hops})
		require.NoError(t, err)
		require.Len(t, coords.Coords, 4)
		assert.Equal(t, graph.Coordinates{Lat: 0, Lon: 10}, coords.Coords[0])

		_, err = c.ForgetQuery(ctx, &wire.QueryRef{QueryID: *reply.QueryID})
		require.NoError(t, err)
		_, err = backtrack(ctx, c, *reply.QueryID)
		assert.Equal(t, codes.NotFound, status.Code(err))
	})

	t.Run("SameNode", func(t *testing.T) {
		reply, err := c.ShortestPathQuery(ctx, &wire.PathRequest{From: 3, To: 3})
		require.NoError(t, err)
		require.NotNil(t, reply.Distance)
		assert.Zero(t, *reply.Distance)
		assert.Nil(t, reply.QueryID)
	})

	t.Run("Unreachable", func(t *testing.T) {
		reply, err := c.ShortestPathQuery(ctx, &wire.PathRequest{From: 1, To: 5})
		require.NoError(t, err)
		assert.Nil(t, reply.Distance)
		if reply.QueryID != nil {
			_, err = c.ForgetQuery(ctx, &wire.QueryRef{QueryID: *reply.QueryID})
			assert.NoError(t, err)
		}
	})

	t.Run("UnknownEndpoint", func(t *testing.T) {
		_, err := c.ShortestPathQuery(ctx, &wire.PathRequest{From: 1, To: 99})
		assert.Equal(t, codes.NotFound, status.Code(err))
	})
}
