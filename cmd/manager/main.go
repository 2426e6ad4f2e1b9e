// Command manager owns the graph file of a waypoint deployment.
//
// On start it loads GRAPH_FILE, splits it into PARTITIONS fragments with
// PARTITION_STRATEGY and then serves the bootstrap protocol of package
// cluster: workers register to receive a fragment id and download their
// fragment, executers poll the worker list until it is complete.
//
// Configuration (environment):
//
//	MANAGER_ADDR        listen address (default ":8080")
//	GRAPH_FILE          graph file, optionally .zst compressed (required)
//	PARTITIONS          number of fragments (default 4)
//	PARTITION_STRATEGY  grid, quantile or hash (default grid)
//	HEALTH_INTERVAL     worker probe interval (default 5s)
//	LOG_LEVEL, LOG_FORMAT
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dreamware/waypoint/internal/cluster"
	"github.com/dreamware/waypoint/internal/graph"
	"github.com/dreamware/waypoint/internal/logging"
	"github.com/dreamware/waypoint/internal/manager"
	"github.com/dreamware/waypoint/internal/partition"
)

var logFatal = log.Fatalf

func main() {
	logger := logging.FromEnv()
	addr := getenv("MANAGER_ADDR", ":8080")
	graphFile := mustGetenv("GRAPH_FILE")
	parts := getenvInt("PARTITIONS", 4)
	strategyName := getenv("PARTITION_STRATEGY", "grid")
	interval := getenvDuration("HEALTH_INTERVAL", 5*time.Second)

	strategy, err := partition.ByName(strategyName)
	if err != nil {
		logFatal("partition strategy: %v", err)
	}
	g, err := partition.Load(graphFile)
	if err != nil {
		logFatal("load graph: %v", err)
	}
	frags, err := partition.Split(g, strategy, parts)
	if err != nil {
		logFatal("split graph: %v", err)
	}
	st := partition.Summarize(frags)
	logger.Info("graph split",
		"file", graphFile, "nodes", len(g.Nodes), "edges", len(g.Edges),
		"strategy", strategy.Name(), "fragments", parts,
		"fragment_nodes", st.Nodes, "cross_edges", st.CrossEdges)

	srv := newServer(frags, logger)

	monitor := manager.NewHealthMonitor(interval, logger)
	monitor.SetOnUnhealthy(func(id graph.WorkerID) {
		if srv.evict(id) {
			logger.Warn("evicted unhealthy worker", "worker_id", id)
		}
	})
	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	go monitor.Start(monitorCtx, srv.registry.List)

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("manager listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logFatal("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	stopMonitor()
	monitor.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "err", err)
	}
	logger.Info("manager stopped")
}

type server struct {
	registry  *manager.WorkerRegistry
	log       *slog.Logger
	fragments []partition.Fragment
}

func newServer(frags []partition.Fragment, logger *slog.Logger) *server {
	s := &server{
		registry:  manager.NewWorkerRegistry(len(frags)),
		log:       logger,
		fragments: frags,
	}
	return s
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/register", s.handleRegister)
	mux.HandleFunc("/workers", s.handleListWorkers)
	mux.HandleFunc("/fragment", s.handleFragment)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

var registeredWorkers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "waypoint",
	Subsystem: "manager",
	Name:      "registered_workers",
	Help:      "Workers currently holding a fragment.",
})

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	info, err := s.registry.Register(req)
	switch {
	case errors.Is(err, manager.ErrMissingAddr):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, manager.ErrRegistryFull):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	registeredWorkers.Set(float64(len(s.registry.List())))
	s.log.Info("worker registered", "worker_id", info.ID, "grpc_addr", info.GRPCAddr, "admin_addr", info.AdminAddr)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cluster.RegisterResponse{WorkerID: info.ID})
}

// evict frees the fragment of an unhealthy worker so a replacement can take it.
func (s *server) evict(id graph.WorkerID) bool {
	ok := s.registry.Evict(id)
	registeredWorkers.Set(float64(len(s.registry.List())))
	return ok
}

func (s *server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cluster.WorkersResponse{
		Workers:  s.registry.List(),
		Complete: s.registry.Complete(),
	})
}

func (s *server) handleFragment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := strconv.ParseUint(r.URL.Query().Get("worker"), 10, 32)
	if err != nil {
		http.Error(w, "invalid worker id", http.StatusBadRequest)
		return
	}
	if id >= uint64(len(s.fragments)) {
		http.Error(w, "no such fragment", http.StatusNotFound)
		return
	}
	f := s.fragments[id]
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cluster.FragmentResponse{
		WorkerID: f.Worker,
		Nodes:    f.Nodes,
		Edges:    f.Edges,
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
	if err != nil || n < 1 {
		logFatal("env %s: want a positive integer, got %q", k, v)
		return def
	}
	return n
}

func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		logFatal("env %s: want a positive duration, got %q", k, v)
		return def
	}
	return d
}
