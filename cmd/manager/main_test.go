package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/waypoint/internal/cluster"
	"github.com/dreamware/waypoint/internal/graph"
	"github.com/dreamware/waypoint/internal/partition"
)

const square = `n 1 0 0
n 2 0 1
n 3 1 1
n 4 1 0
e 1 2 1
e 2 3 5
e 3 4 2
`

func testServer(t *testing.T, parts int) *server {
	t.Helper()
	g, err := partition.Read(strings.NewReader(square))
	require.NoError(t, err)
	frags, err := partition.Split(g, partition.Grid{}, parts)
	require.NoError(t, err)
	return newServer(frags, slog.New(slog.DiscardHandler))
}

func do(t *testing.T, h http.Handler, method, url string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// TestGetenv tests the getenv utility function
func TestGetenv(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		def      string
		expected string
	}{
		{"environment variable set", "WAYPOINT_TEST_ENV", "test_value", "default", "test_value"},
		{"environment variable not set", "WAYPOINT_UNSET_ENV", "", "default_value", "default_value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv(tt.key, tt.value)
			}
			assert.Equal(t, tt.expected, getenv(tt.key, tt.def))
		})
	}
}

// TestTypedGetenv tests integer and duration parsing, including the fatal path
func TestTypedGetenv(t *testing.T) {
	var fatal string
	old := logFatal
	logFatal = func(format string, args ...any) { fatal = fmt.Sprintf(format, args...) }
	defer func() { logFatal = old }()

	t.Setenv("WAYPOINT_PARTS", "8")
	assert.Equal(t, 8, getenvInt("WAYPOINT_PARTS", 4))
	assert.Equal(t, 4, getenvInt("WAYPOINT_PARTS_UNSET", 4))
	assert.Empty(t, fatal)

	t.Setenv("WAYPOINT_PARTS", "zero")
	assert.Equal(t, 4, getenvInt("WAYPOINT_PARTS", 4))
	assert.Contains(t, fatal, "WAYPOINT_PARTS")

	fatal = ""
	t.Setenv("WAYPOINT_INTERVAL", "250ms")
	assert.Equal(t, 250*time.Millisecond, getenvDuration("WAYPOINT_INTERVAL", time.Second))
	t.Setenv("WAYPOINT_INTERVAL", "-1s")
	assert.Equal(t, time.Second, getenvDuration("WAYPOINT_INTERVAL", time.Second))
	assert.Contains(t, fatal, "WAYPOINT_INTERVAL")

	fatal = ""
	os.Unsetenv("WAYPOINT_REQUIRED")
	mustGetenv("WAYPOINT_REQUIRED")
	assert.Contains(t, fatal, "missing env WAYPOINT_REQUIRED")
}

// TestHandleRegister tests the worker registration endpoint
func TestHandleRegister(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		body           any
		expectedStatus int
	}{
		{"successful registration", http.MethodPost, cluster.RegisterRequest{GRPCAddr: "127.0.0.1:50000", AdminAddr: "http://127.0.0.1:8081"}, http.StatusOK},
		{"missing grpc address", http.MethodPost, cluster.RegisterRequest{AdminAddr: "http://127.0.0.1:8081"}, http.StatusBadRequest},
		{"invalid JSON body", http.MethodPost, "not json", http.StatusBadRequest},
		{"wrong method", http.MethodGet, nil, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, 2)
			rec := do(t, srv.routes(), tt.method, "/register", tt.body)
			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedStatus == http.StatusOK {
				var resp cluster.RegisterResponse
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
				assert.Equal(t, graph.WorkerID(0), resp.WorkerID)
			}
		})
	}
}

// TestRegisterUntilFull tests id assignment, idempotent retries and the 409 once full
func TestRegisterUntilFull(t *testing.T) {
	srv := testServer(t, 2)
	h := srv.routes()

	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodPost, "/register", cluster.RegisterRequest{GRPCAddr: fmt.Sprintf("w%d:1", i)})
		require.Equal(t, http.StatusOK, rec.Code)
		var resp cluster.RegisterResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, graph.WorkerID(i), resp.WorkerID)
	}

	rec := do(t, h, http.MethodPost, "/register", cluster.RegisterRequest{GRPCAddr: "w0:1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp cluster.RegisterResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, graph.WorkerID(0), resp.WorkerID)

	rec = do(t, h, http.MethodPost, "/register", cluster.RegisterRequest{GRPCAddr: "late:1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.True(t, srv.evict(1))
	rec = do(t, h, http.MethodPost, "/register", cluster.RegisterRequest{GRPCAddr: "late:1"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

// TestHandleListWorkers tests the worker listing and its completeness flag
func TestHandleListWorkers(t *testing.T) {
	srv := testServer(t, 2)
	h := srv.routes()

	list := func() cluster.WorkersResponse {
		rec := do(t, h, http.MethodGet, "/workers", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp cluster.WorkersResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		return resp
	}

	resp := list()
	assert.Empty(t, resp.Workers)
	assert.False(t, resp.Complete)

	do(t, h, http.MethodPost, "/register", cluster.RegisterRequest{GRPCAddr: "b:1", AdminAddr: "http://b"})
	do(t, h, http.MethodPost, "/register", cluster.RegisterRequest{GRPCAddr: "a:1", AdminAddr: "http://a"})

	resp = list()
	assert.True(t, resp.Complete)
	require.Len(t, resp.Workers, 2)
	assert.Equal(t, cluster.WorkerInfo{ID: 0, GRPCAddr: "b:1", AdminAddr: "http://b"}, resp.Workers[0])
	assert.Equal(t, graph.WorkerID(1), resp.Workers[1].ID)

	rec := do(t, h, http.MethodPost, "/workers", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// TestHandleFragment tests fragment download and that fragments rebuild cleanly
func TestHandleFragment(t *testing.T) {
	srv := testServer(t, 4)
	h := srv.routes()

	nodes := 0
	for i := 0; i < 4; i++ {
		rec := do(t, h, http.MethodGet, fmt.Sprintf("/fragment?worker=%d", i), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp cluster.FragmentResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, graph.WorkerID(i), resp.WorkerID)
		nodes += len(resp.Nodes)

		_, err := graph.Build(resp.WorkerID, resp.Nodes, resp.Edges)
		assert.NoError(t, err)
	}
	assert.Equal(t, 4, nodes)

	tests := []struct {
		url  string
		code int
	}{
		{"/fragment", http.StatusBadRequest},
		{"/fragment?worker=abc", http.StatusBadRequest},
		{"/fragment?worker=-1", http.StatusBadRequest},
		{"/fragment?worker=4", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := do(t, h, http.MethodGet, tt.url, nil)
		assert.Equal(t, tt.code, rec.Code, tt.url)
	}
}

// TestHealthAndMetrics tests the health check and Prometheus endpoints
func TestHealthAndMetrics(t *testing.T) {
	srv := testServer(t, 1)
	h := srv.routes()

	rec := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	do(t, h, http.MethodPost, "/register", cluster.RegisterRequest{GRPCAddr: "a:1"})
	rec = do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "waypoint_manager_registered_workers")
}

// TestConcurrentRegistration tests that parallel registrations get distinct ids
func TestConcurrentRegistration(t *testing.T) {
	g, err := partition.Read(strings.NewReader(square))
	require.NoError(t, err)
	frags, err := partition.Split(g, partition.Hash{}, 16)
	require.NoError(t, err)
	srv := newServer(frags, slog.New(slog.DiscardHandler))
	h := srv.routes()

	var wg sync.WaitGroup
	var mu sync.Mutex
	ids := map[graph.WorkerID]bool{}
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := do(t, h, http.MethodPost, "/register", cluster.RegisterRequest{GRPCAddr: fmt.Sprintf("w%d:1", i)})
			var resp cluster.RegisterResponse
			if assert.Equal(t, http.StatusOK, rec.Code) && assert.NoError(t, json.NewDecoder(rec.Body).Decode(&resp)) {
				mu.Lock()
				ids[resp.WorkerID] = true
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, ids, 16)
	assert.True(t, srv.registry.Complete())
}
