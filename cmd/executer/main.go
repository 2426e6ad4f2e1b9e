// Command executer answers shortest path queries over a running cluster.
//
// It waits until the manager reports a worker for every fragment, dials
// all of them and serves the Executer gRPC service. Each query is driven
// by a coordinator that runs UpdateSearch rounds against the workers until
// the destination is settled; the executer retains the query so that the
// client can backtrack the path and fetch coordinates before forgetting it.
//
// Configuration (environment):
//
//	MANAGER_ADDR           manager base URL (required)
//	EXECUTER_LISTEN        gRPC listen address (default ":50051")
//	EXECUTER_ADMIN_LISTEN  admin listen address (default ":8090")
//	QUERY_RATE             admitted queries per second, 0 for unlimited (default 0)
//	QUERY_BURST            burst size when QUERY_RATE is set (default 10)
//	LOG_LEVEL, LOG_FORMAT
package main

import (
	"context"
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
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/dreamware/waypoint/internal/cluster"
	"github.com/dreamware/waypoint/internal/logging"
	"github.com/dreamware/waypoint/internal/query"
	"github.com/dreamware/waypoint/internal/wire"
)

var logFatal = log.Fatalf

const (
	discoveryTimeout = 2 * time.Minute
	discoveryPoll    = 500 * time.Millisecond
)

func main() {
	logger := logging.FromEnv()
	manager := mustGetenv("MANAGER_ADDR")
	listen := getenv("EXECUTER_LISTEN", ":50051")
	adminListen := getenv("EXECUTER_ADMIN_LISTEN", ":8090")
	qps := getenvFloat("QUERY_RATE", 0)
	burst := getenvInt("QUERY_BURST", 10)

	ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	infos, err := waitForWorkers(ctx, manager, discoveryPoll, logger)
	cancel()
	if err != nil {
		logFatal("discover workers: %v", err)
	}

	workers, conns, err := dialWorkers(infos)
	if err != nil {
		logFatal("dial workers: %v", err)
	}
	defer func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}()
	logger.Info("workers dialed", "count", workers.Len())

	mgr := query.NewManager(workers, logger)

	var opts []grpc.ServerOption
	if qps > 0 {
		opts = append(opts, grpc.UnaryInterceptor(query.RateLimit(rate.NewLimiter(rate.Limit(qps), burst))))
		logger.Info("query admission limited", "rate", qps, "burst", burst)
	}
	opts = append(opts,
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
	)
	gs := grpc.NewServer(opts...)
	wire.RegisterExecuterServer(gs, query.NewService(mgr))

	lis, err := net.Listen("tcp", listen)
	if err != nil {
		logFatal("listen %s: %v", listen, err)
	}
	go func() {
		logger.Info("executer listening", "addr", listen)
		if err := gs.Serve(lis); err != nil {
			logFatal("serve: %v", err)
		}
	}()

	admin := &http.Server{
		Addr:              adminListen,
		Handler:           adminRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("executer admin listening", "addr", adminListen)
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logFatal("admin listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	gs.GracefulStop()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := admin.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin shutdown", "err", err)
	}
	logger.Info("executer stopped", "active_queries", mgr.ActiveQueries())
}

// waitForWorkers polls the manager until every fragment has a worker.
func waitForWorkers(ctx context.Context, manager string, every time.Duration, logger *slog.Logger) ([]cluster.WorkerInfo, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		var resp cluster.WorkersResponse
		err := cluster.GetJSON(ctx, manager+"/workers", &resp)
		switch {
		case err == nil && resp.Complete:
			return resp.Workers, nil
		case err == nil:
			logger.Info("waiting for workers", "registered", len(resp.Workers))
		default:
			logger.Warn("worker discovery failed", "err", err)
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return nil, fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// dialWorkers opens one client connection per worker. Connections are
// established lazily by gRPC; the caller closes them on shutdown.
func dialWorkers(infos []cluster.WorkerInfo) (*query.Workers, []*grpc.ClientConn, error) {
	conns := make([]*grpc.ClientConn, 0, len(infos))
	ws := make([]query.Worker, 0, len(infos))
	closeAll := func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}
	for _, info := range infos {
		conn, err := grpc.NewClient(info.GRPCAddr,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:                20 * time.Second,
				Timeout:             5 * time.Second,
				PermitWithoutStream: true,
			}),
		)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("worker %d at %s: %w", info.ID, info.GRPCAddr, err)
		}
		conns = append(conns, conn)
		ws = append(ws, query.Worker{ID: info.ID, Client: wire.NewWorkerClient(conn)})
	}
	workers, err := query.NewWorkers(ws)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return workers, conns, nil
}

func adminRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
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

func getenvFloat(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		logFatal("env %s: want a non-negative number, got %q", k, v)
		return def
	}
	return f
}
