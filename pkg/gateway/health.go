package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mackerelio/go-osstat/cpu"
	"github.com/mackerelio/go-osstat/memory"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/httputil"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
)

// Probe names accepted under /check/.
const (
	ProbeHealth    = "health"
	ProbeLiveness  = "liveness"
	ProbeReadiness = "readiness"
	ProbeStartup   = "startup"
)

// HealthCheck reports one component. Probes limits the check to some probes;
// empty means all of them.
type HealthCheck struct {
	Component string
	Probes    []string
	Check     func(ctx context.Context) error
}

func (c HealthCheck) appliesTo(probe string) bool {
	if len(c.Probes) == 0 {
		return true
	}
	for _, p := range c.Probes {
		if p == probe {
			return true
		}
	}
	return false
}

// Failure lists the reasons a component is unhealthy.
type Failure struct {
	Messages []string `json:"messages"`
}

// ComponentResult is one entry of a health report.
type ComponentResult struct {
	Component string         `json:"component"`
	IsHealthy bool           `json:"isHealthy"`
	Failure   *Failure       `json:"failure,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HealthStatus is the body of the /check endpoints.
type HealthStatus struct {
	IsSystemHealthy  bool              `json:"isSystemHealthy"`
	ComponentResults []ComponentResult `json:"componentResults"`
}

// Health serves the liveness and readiness endpoints.
type Health struct {
	mu        sync.Mutex
	checks    []HealthCheck
	started   bool
	startedAt time.Time
	lastCPU   *cpu.Stats
	timeout   time.Duration
	logger    *logging.ColoredLogger
}

// NewHealth creates a health service. Startup probes fail until MarkStarted.
func NewHealth(logger *logging.ColoredLogger) *Health {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Health{timeout: 5 * time.Second, logger: logger}
}

// Register adds a component check.
func (h *Health) Register(c HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, c)
}

// MarkStarted flips the startup probe.
func (h *Health) MarkStarted() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = true
	h.startedAt = time.Now()
}

// Routes registers /health and /check/{probe}.
func (h *Health) Routes(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"response": "I'm alive!"})
	})
	r.Get("/check/{probe}", h.check)
}

func (h *Health) check(w http.ResponseWriter, r *http.Request) {
	probe := chi.URLParam(r, "probe")
	switch probe {
	case ProbeHealth, ProbeLiveness, ProbeReadiness, ProbeStartup:
	default:
		httputil.WriteError(w, http.StatusNotFound, "unknown probe "+probe)
		return
	}
	status := h.Status(r.Context(), probe)
	code := http.StatusOK
	if !status.IsSystemHealthy {
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, status)
}

// Status runs every check that applies to probe.
func (h *Health) Status(ctx context.Context, probe string) HealthStatus {
	h.mu.Lock()
	checks := append([]HealthCheck(nil), h.checks...)
	started := h.started
	h.mu.Unlock()

	status := HealthStatus{IsSystemHealthy: true}
	if probe == ProbeStartup {
		res := ComponentResult{Component: "runtime", IsHealthy: started}
		if !started {
			res.Failure = &Failure{Messages: []string{"runtime not started"}}
		}
		status.ComponentResults = append(status.ComponentResults, res)
		status.IsSystemHealthy = started
	}

	for _, c := range checks {
		if !c.appliesTo(probe) {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, h.timeout)
		err := c.Check(cctx)
		cancel()
		res := ComponentResult{Component: c.Component, IsHealthy: err == nil}
		if err != nil {
			res.Failure = &Failure{Messages: []string{err.Error()}}
			status.IsSystemHealthy = false
			h.logger.ComponentWarn(logging.ComponentGateway, "Health check failed",
				zap.String("probe", probe), zap.String("component", c.Component), zap.Error(err))
		}
		status.ComponentResults = append(status.ComponentResults, res)
	}

	if probe == ProbeHealth || probe == ProbeReadiness {
		status.ComponentResults = append(status.ComponentResults, h.hostMetrics())
	}
	return status
}

// hostMetrics is informational and never fails the report. CPU usage is the
// delta since the previous report, so the first report carries memory only.
func (h *Health) hostMetrics() ComponentResult {
	res := ComponentResult{Component: "host", IsHealthy: true, Details: map[string]any{}}
	if mem, err := memory.Get(); err == nil && mem.Total > 0 {
		res.Details["memoryUsedBytes"] = mem.Used
		res.Details["memoryTotalBytes"] = mem.Total
		res.Details["memoryUsagePercent"] = float64(mem.Used) / float64(mem.Total) * 100
	}
	now, err := cpu.Get()
	if err != nil {
		return res
	}
	h.mu.Lock()
	before := h.lastCPU
	h.lastCPU = now
	startedAt := h.startedAt
	h.mu.Unlock()
	if before != nil {
		idle := float64(now.Idle - before.Idle)
		total := float64(now.Total - before.Total)
		if total > 0 {
			res.Details["cpuUsagePercent"] = (1.0 - idle/total) * 100.0
		}
	}
	if !startedAt.IsZero() {
		res.Details["uptime"] = time.Since(startedAt).String()
	}
	return res
}
