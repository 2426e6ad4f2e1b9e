package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/waypoint/internal/cluster"
	"github.com/dreamware/waypoint/internal/graph"
)

var discard = slog.New(slog.DiscardHandler)

// TestWaitForWorkers tests polling until the manager reports a complete cluster
func TestWaitForWorkers(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/workers" {
			http.NotFound(w, r)
			return
		}
		resp := cluster.WorkersResponse{Workers: []cluster.WorkerInfo{{ID: 0, GRPCAddr: "a:1"}}}
		if polls.Add(1) >= 3 {
			resp.Workers = append(resp.Workers, cluster.WorkerInfo{ID: 1, GRPCAddr: "b:1"})
			resp.Complete = true
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	infos, err := waitForWorkers(ctx, srv.URL, 10*time.Millisecond, discard)
	require.NoError(t, err)
	assert.Len(t, infos, 2)
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

// TestWaitForWorkersTimeout tests that discovery gives up with the context
func TestWaitForWorkersTimeout(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"never complete", func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(cluster.WorkersResponse{})
		}},
		{"manager failing", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			_, err := waitForWorkers(ctx, srv.URL, 10*time.Millisecond, discard)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
		})
	}
}

// TestDialWorkers tests client construction and duplicate detection
func TestDialWorkers(t *testing.T) {
	var infos []cluster.WorkerInfo
	for i := 2; i >= 0; i-- {
		infos = append(infos, cluster.WorkerInfo{ID: graph.WorkerID(i), GRPCAddr: fmt.Sprintf("127.0.0.1:%d", 50000+i)})
	}
	workers, conns, err := dialWorkers(infos)
	require.NoError(t, err)
	defer func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}()
	assert.Len(t, conns, 3)
	require.Equal(t, 3, workers.Len())
	for i := 0; i < 3; i++ {
		assert.Equal(t, graph.WorkerID(i), workers.At(i).ID, "workers are sorted by id")
	}

	dup := append(infos, cluster.WorkerInfo{ID: 1, GRPCAddr: "127.0.0.1:50009"})
	_, _, err = dialWorkers(dup)
	assert.Error(t, err)
}

// TestAdminRoutes tests the executer admin endpoints
func TestAdminRoutes(t *testing.T) {
	h := adminRoutes()
	for _, path := range []string{"/health", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

// TestGetenvFloat tests the rate parsing helper
func TestGetenvFloat(t *testing.T) {
	var fatal string
	old := logFatal
	logFatal = func(format string, args ...any) { fatal = fmt.Sprintf(format, args...) }
	defer func() { logFatal = old }()

	assert.Equal(t, 0.0, getenvFloat("WAYPOINT_RATE_UNSET", 0))
	t.Setenv("WAYPOINT_RATE", "12.5")
	assert.Equal(t, 12.5, getenvFloat("WAYPOINT_RATE", 0))
	assert.Empty(t, fatal)

	t.Setenv("WAYPOINT_RATE", "-3")
	assert.Equal(t, 0.0, getenvFloat("WAYPOINT_RATE", 0))
	assert.Contains(t, fatal, "WAYPOINT_RATE")

	t.Setenv("WAYPOINT_BURST", "4")
	assert.Equal(t, 4, getenvInt("WAYPOINT_BURST", 10))
	assert.Equal(t, "x", getenv("WAYPOINT_UNSET", "x"))
}
