// Command worker serves one fragment of the graph.
//
// A worker starts empty. It registers with the manager, which assigns it a
// fragment id, downloads that fragment and then serves the Worker gRPC
// service: presence checks, UpdateSearch rounds, backtracking and
// coordinate lookups for the nodes it owns. Query state lives only in
// memory and is dropped when the executer forgets the query.
//
// A small HTTP admin server exposes /health for the manager's health
// monitor, /metrics for Prometheus and /info for operators.
//
// Configuration (environment):
//
//	MANAGER_ADDR         manager base URL (required)
//	WORKER_GRPC_LISTEN   gRPC listen address (default ":50000")
//	WORKER_GRPC_ADDR     gRPC address announced to executers (default "127.0.0.1:50000")
//	WORKER_ADMIN_LISTEN  admin listen address (default ":8081")
//	WORKER_ADMIN_ADDR    admin base URL announced to the manager (default "http://127.0.0.1:8081")
//	RELAX_RESERVE        CPUs kept free of relaxation work (default 1)
//	LOG_LEVEL, LOG_FORMAT
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/dreamware/waypoint/internal/cluster"
	"github.com/dreamware/waypoint/internal/graph"
	"github.com/dreamware/waypoint/internal/logging"
	"github.com/dreamware/waypoint/internal/search"
	"github.com/dreamware/waypoint/internal/wire"
)

// logFatal is a variable to allow mocking in tests
var logFatal = log.Fatalf

const (
	registerAttempts = 10
	registerBackoff  = 400 * time.Millisecond
)

// Worker bundles the fragment a process serves with its search service.
type Worker struct {
	fragment *graph.Fragment
	service  *search.Service
	pool     *search.Pool
}

// NewWorker wires a search service over frag.
func NewWorker(frag *graph.Fragment, pool *search.Pool, logger *slog.Logger) *Worker {
	return &Worker{
		fragment: frag,
		service:  search.NewService(frag, pool, logger),
		pool:     pool,
	}
}

func main() {
	logger := logging.FromEnv()
	manager := mustGetenv("MANAGER_ADDR")
	grpcListen := getenv("WORKER_GRPC_LISTEN", ":50000")
	grpcPublic := getenv("WORKER_GRPC_ADDR", "127.0.0.1:50000")
	adminListen := getenv("WORKER_ADMIN_LISTEN", ":8081")
	adminPublic := getenv("WORKER_ADMIN_ADDR", "http://127.0.0.1:8081")
	reserve := getenvInt("RELAX_RESERVE", 1)

	lis, err := net.Listen("tcp", grpcListen)
	if err != nil {
		logFatal("listen %s: %v", grpcListen, err)
	}

	ctx := context.Background()
	id, err := register(ctx, manager, cluster.RegisterRequest{GRPCAddr: grpcPublic, AdminAddr: adminPublic}, logger)
	if err != nil {
		logFatal("failed to register with manager: %v", err)
	}
	logger = logger.With("worker_id", id)

	frag, err := fetchFragment(ctx, manager, id)
	if err != nil {
		logFatal("failed to load fragment %d: %v", id, err)
	}
	logger.Info("fragment loaded", "nodes", frag.Len(), "edges", frag.EdgeCount())

	w := NewWorker(frag, search.NewPool(reserve), logger)
	logger.Info("relaxation pool ready", "size", w.pool.Size())

	gs := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	wire.RegisterWorkerServer(gs, w.service)

	go func() {
		logger.Info("worker gRPC listening", "addr", grpcListen, "public", grpcPublic)
		if err := gs.Serve(lis); err != nil {
			logFatal("serve: %v", err)
		}
	}()

	admin := &http.Server{
		Addr:              adminListen,
		Handler:           w.adminRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker admin listening", "addr", adminListen, "public", adminPublic)
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logFatal("admin listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	gs.GracefulStop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := admin.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin shutdown", "err", err)
	}
	logger.Info("worker stopped")
}

// register announces the worker to the manager and returns its fragment id.
// Transient failures are retried; a full cluster (409) is not.
func register(ctx context.Context, manager string, req cluster.RegisterRequest, logger *slog.Logger) (graph.WorkerID, error) {
	var lastErr error
	for i := 0; i < registerAttempts; i++ {
		var resp cluster.RegisterResponse
		lastErr = cluster.PostJSON(ctx, manager+"/register", req, &resp)
		if lastErr == nil {
			logger.Info("registered with manager", "manager", manager, "worker_id", resp.WorkerID)
			return resp.WorkerID, nil
		}
		var se *cluster.StatusError
		if errors.As(lastErr, &se) && se.Code == http.StatusConflict {
			return 0, fmt.Errorf("manager has no free fragment: %w", lastErr)
		}
		logger.Warn("register retry", "attempt", i+1, "err", lastErr)
		time.Sleep(registerBackoff)
	}
	return 0, lastErr
}

// fetchFragment downloads and builds the fragment for id.
func fetchFragment(ctx context.Context, manager string, id graph.WorkerID) (*graph.Fragment, error) {
	var resp cluster.FragmentResponse
	url := fmt.Sprintf("%s/fragment?worker=%d", manager, id)
	if err := cluster.GetJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	if resp.WorkerID != id {
		return nil, fmt.Errorf("manager sent fragment %d, want %d", resp.WorkerID, id)
	}
	return graph.Build(id, resp.Nodes, resp.Edges)
}

// Info is served on /info
type Info struct {
	WorkerID      graph.WorkerID `json:"worker_id"`
	Nodes         int            `json:"nodes"`
	Edges         int            `json:"edges"`
	ActiveQueries int            `json:"active_queries"`
	PoolSize      int            `json:"pool_size"`
}

func (w *Worker) adminRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/info", w.handleInfo)
	return mux
}

func (w *Worker) handleInfo(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(Info{
		WorkerID:      w.fragment.Worker(),
		Nodes:         w.fragment.Len(),
		Edges:         w.fragment.EdgeCount(),
		ActiveQueries: w.service.ActiveQueries(),
		PoolSize:      w.pool.Size(),
	})
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustGetenv(k string) string {
	v := os.Getenv(k)
	if v == "" {
		logFatal("missing env %s", k)
	}
	return v
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		logFatal("env %s: want a non-negative integer, got %q", k, v)
		return def
	}
	return n
}
