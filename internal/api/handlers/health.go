package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/xuecangming/folder-copy/internal/common/types"
	"github.com/xuecangming/folder-copy/internal/core/scheduler"
)

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// SchedulerStats reports the state of the job workers
type SchedulerStats interface {
	Stats() scheduler.Stats
}

// JobCounter counts queued jobs by status
type JobCounter interface {
	CountByStatus(ctx context.Context) (map[types.JobStatus]int, error)
}

// HealthOptions lists what the health endpoints inspect. DB is nil when the
// in-memory repositories are used.
type HealthOptions struct {
	DB        *sql.DB
	Scheduler SchedulerStats
	Jobs      JobCounter
	// PingTimeout bounds every database round trip; defaults to 2s
	PingTimeout time.Duration
}

// HealthHandler serves the health, readiness and info endpoints
type HealthHandler struct {
	opts      HealthOptions
	startTime time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(opts HealthOptions) *HealthHandler {
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 2 * time.Second
	}
	return &HealthHandler{opts: opts, startTime: time.Now()}
}

// ComponentHealth represents health status of a component
type ComponentHealth struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
}

func (h *HealthHandler) driver() string {
	if h.opts.DB == nil {
		return "memory"
	}
	return "postgres"
}

// Health handles GET /health. The service is unhealthy when the job store
// cannot be read; stopped workers only degrade it, since jobs may be run
// by a separate worker process.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	components := map[string]ComponentHealth{
		"database":  h.checkDatabase(r.Context()),
		"scheduler": h.checkScheduler(),
		"jobs":      h.checkJobs(r.Context()),
	}

	status := statusHealthy
	for name, c := range components {
		switch {
		case c.Status == statusUnhealthy:
			status = statusUnhealthy
		case c.Status == statusDegraded && status == statusHealthy && name != "scheduler":
			status = statusDegraded
		}
	}

	code := http.StatusOK
	if status == statusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, HealthResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Components: components,
	})
}

func (h *HealthHandler) ping(ctx context.Context) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.PingTimeout)
	defer cancel()

	start := time.Now()
	err := h.opts.DB.PingContext(ctx)
	return time.Since(start), err
}

func (h *HealthHandler) checkDatabase(ctx context.Context) ComponentHealth {
	if h.opts.DB == nil {
		return ComponentHealth{Status: statusHealthy, Details: map[string]interface{}{"driver": "memory"}}
	}

	latency, err := h.ping(ctx)
	if err != nil {
		return ComponentHealth{Status: statusUnhealthy, Message: err.Error()}
	}

	pool := h.opts.DB.Stats()
	status := statusHealthy
	// callers queue for connections once the pool is exhausted
	if pool.MaxOpenConnections > 0 && pool.InUse >= pool.MaxOpenConnections {
		status = statusDegraded
	}
	return ComponentHealth{
		Status: status,
		Details: map[string]interface{}{
			"driver":     "postgres",
			"latency_ms": latency.Milliseconds(),
			"in_use":     pool.InUse,
			"max_open":   pool.MaxOpenConnections,
			"wait_count": pool.WaitCount,
		},
	}
}

func (h *HealthHandler) checkScheduler() ComponentHealth {
	if h.opts.Scheduler == nil {
		return ComponentHealth{Status: statusDegraded, Message: "no scheduler configured"}
	}

	stats := h.opts.Scheduler.Stats()
	c := ComponentHealth{
		Status: statusHealthy,
		Details: map[string]interface{}{
			"workers":   stats.Workers,
			"running":   stats.Running,
			"executing": stats.Executing,
		},
	}
	if !stats.Running {
		c.Status = statusDegraded
		c.Message = "workers not running in this process"
	}
	return c
}

func (h *HealthHandler) checkJobs(ctx context.Context) ComponentHealth {
	if h.opts.Jobs == nil {
		return ComponentHealth{Status: statusDegraded, Message: "job store not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, h.opts.PingTimeout)
	defer cancel()

	counts, err := h.opts.Jobs.CountByStatus(ctx)
	if err != nil {
		return ComponentHealth{Status: statusUnhealthy, Message: err.Error()}
	}

	details := make(map[string]interface{}, 5)
	for _, s := range []types.JobStatus{
		types.JobStatusQueued,
		types.JobStatusRunning,
		types.JobStatusSucceeded,
		types.JobStatusFailed,
		types.JobStatusDiscarded,
	} {
		details[string(s)] = counts[s]
	}
	return ComponentHealth{Status: statusHealthy, Details: details}
}

// Info handles GET /info
func (h *HealthHandler) Info(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":        "folder-copy",
		"api_version": "v1",
		"go_version":  runtime.Version(),
		"database":    h.driver(),
		"started_at":  h.startTime.Format(time.RFC3339),
	}
	if h.opts.Scheduler != nil {
		info["workers"] = h.opts.Scheduler.Stats().Workers
	}
	writeJSON(w, http.StatusOK, info)
}

// Ready handles GET /ready. New copy operations can be accepted as soon as
// the job store answers.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.opts.DB != nil {
		if _, err := h.ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "not ready",
				"message": "database connection not available",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Live handles GET /live
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
