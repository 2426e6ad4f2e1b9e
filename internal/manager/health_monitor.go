package manager

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dreamware/waypoint/internal/cluster"
	"github.com/dreamware/waypoint/internal/graph"
)

// Health states reported by WorkerHealth.Status
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// WorkerHealth tracks the health of one worker.
// Protected by HealthMonitor's mutex when accessed.
type WorkerHealth struct {
	LastCheck        time.Time      // Last health check attempt
	LastHealthy      time.Time      // Last successful health check
	Status           string         // "healthy", "unhealthy" or "unknown"
	ConsecutiveFails int            // Failed checks since the last success
	WorkerID         graph.WorkerID // Fragment served by the worker
}

// HealthMonitor periodically probes the admin endpoint of every registered
// worker. A worker is marked unhealthy after maxFailures consecutive failed
// probes, at which point the onUnhealthy callback fires once.
// Thread-safe: all methods are safe for concurrent access.
type HealthMonitor struct {
	workers     map[graph.WorkerID]*WorkerHealth
	httpClient  *http.Client
	checkFunc   func(addr string) error
	onUnhealthy func(id graph.WorkerID)
	log         *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	interval    time.Duration
	timeout     time.Duration
	mu          sync.RWMutex
	wg          sync.WaitGroup
	maxFailures int
}

// NewHealthMonitor creates a monitor that checks each worker every interval.
// A nil logger falls back to slog.Default().
//
// Example:
//
//	monitor := NewHealthMonitor(5*time.Second, logger)
//	monitor.SetOnUnhealthy(func(id graph.WorkerID) { registry.Evict(id) })
//	go monitor.Start(ctx, registry.List)
func NewHealthMonitor(interval time.Duration, logger *slog.Logger) *HealthMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		workers:     make(map[graph.WorkerID]*WorkerHealth),
		httpClient: &http.Client{
			Timeout: 2 * time.Second,
		},
		log:    logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetOnUnhealthy sets the callback invoked when a worker becomes unhealthy.
// The callback runs on its own goroutine.
func (h *HealthMonitor) SetOnUnhealthy(callback func(id graph.WorkerID)) {
	h.onUnhealthy = callback
}

// Start checks every worker returned by provider, immediately and then once
// per interval, until ctx or the monitor is stopped.
func (h *HealthMonitor) Start(ctx context.Context, provider func() []cluster.WorkerInfo) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}
	if h.checkFunc == nil {
		h.checkFunc = h.defaultHealthCheck
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.log.Info("health monitor started", "interval", h.interval)

	h.checkAll(provider())

	for {
		select {
		case <-ticker.C:
			h.checkAll(provider())
		case <-ctx.Done():
			h.log.Info("health monitor stopping", "reason", "context canceled")
			return
		case <-h.ctx.Done():
			h.log.Info("health monitor stopping", "reason", "stopped")
			return
		}
	}
}

// Stop cancels the monitor and waits for Start to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

// checkAll probes every worker and forgets the ones no longer registered.
func (h *HealthMonitor) checkAll(workers []cluster.WorkerInfo) {
	current := make(map[graph.WorkerID]bool, len(workers))
	for _, w := range workers {
		current[w.ID] = true
		h.checkWorker(w)
	}

	h.mu.Lock()
	for id := range h.workers {
		if !current[id] {
			delete(h.workers, id)
			h.log.Info("worker no longer monitored", "worker_id", id)
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) checkWorker(w cluster.WorkerInfo) {
	h.mu.Lock()
	health, exists := h.workers[w.ID]
	if !exists {
		health = &WorkerHealth{
			WorkerID:    w.ID,
			Status:      StatusUnknown,
			LastCheck:   time.Now(),
			LastHealthy: time.Now(),
		}
		h.workers[w.ID] = health
	}
	h.mu.Unlock()

	err := h.checkFunc(w.AdminAddr)

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()

	if err != nil {
		health.ConsecutiveFails++
		h.log.Warn("health check failed",
			"worker_id", w.ID, "attempt", health.ConsecutiveFails, "max", h.maxFailures, "err", err)

		if health.ConsecutiveFails >= h.maxFailures {
			previous := health.Status
			health.Status = StatusUnhealthy
			if previous != StatusUnhealthy && h.onUnhealthy != nil {
				h.log.Error("worker marked unhealthy", "worker_id", w.ID, "fails", health.ConsecutiveFails)
				go h.onUnhealthy(w.ID)
			}
		}
		return
	}

	if health.Status == StatusUnhealthy {
		h.log.Info("worker recovered", "worker_id", w.ID)
	}
	health.Status = StatusHealthy
	health.ConsecutiveFails = 0
	health.LastHealthy = time.Now()
}

// defaultHealthCheck GETs <addr>/health and expects 200.
// addr may be a full URL or host:port.
func (h *HealthMonitor) defaultHealthCheck(addr string) error {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = fmt.Sprintf("http://%s", addr)
	}
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	resp, err := h.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// WorkerHealth returns a copy of the health record for id, or nil if the
// worker is not monitored.
func (h *HealthMonitor) WorkerHealth(id graph.WorkerID) *WorkerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, ok := h.workers[id]
	if !ok {
		return nil
	}
	cp := *health
	return &cp
}

// AllWorkerHealth returns copies of every health record keyed by worker id.
func (h *HealthMonitor) AllWorkerHealth() map[graph.WorkerID]*WorkerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[graph.WorkerID]*WorkerHealth, len(h.workers))
	for id, health := range h.workers {
		cp := *health
		out[id] = &cp
	}
	return out
}

// IsHealthy reports whether worker id passed its last check.
func (h *HealthMonitor) IsHealthy(id graph.WorkerID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, ok := h.workers[id]
	return ok && health.Status == StatusHealthy
}

// SetCheckFunction overrides the HTTP probe, mostly for tests.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(addr string) error) {
	h.checkFunc = checkFunc
}
