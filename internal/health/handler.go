package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/govgate/internal/observability"
)

// DefaultReadinessProbeTimeout bounds a readiness probe.
const DefaultReadinessProbeTimeout = 5 * time.Second

// Check statuses.
const (
	statusOK       = "ok"
	statusError    = "error"
	statusDraining = "draining"
)

// Handler serves the health endpoints.
type Handler struct {
	checks    []HealthCheck
	logger    observability.Logger
	mu        sync.RWMutex
	startTime time.Time
	version   string
	timeout   time.Duration
	draining  atomic.Bool
	metrics   *HealthMetrics
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithVersion sets the version reported by the endpoints.
func WithVersion(version string) Option {
	return func(h *Handler) {
		h.version = version
	}
}

// WithReadinessTimeout sets the readiness probe timeout.
func WithReadinessTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// HealthStatus represents the overall health status.
type HealthStatus struct {
	Status    string                  `json:"status"`
	Version   string                  `json:"version,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
	Uptime    string                  `json:"uptime,omitempty"`
	Checks    map[string]*CheckResult `json:"checks,omitempty"`
}

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// NewHandler creates a new health handler.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		logger:    observability.NopLogger(),
		startTime: time.Now(),
		timeout:   DefaultReadinessProbeTimeout,
		metrics:   GetHealthMetrics(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddCheck adds a readiness check.
func (h *Handler) AddCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// RemoveCheck removes a readiness check by name.
func (h *Handler) RemoveCheck(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, check := range h.checks {
		if check.Name() == name {
			h.checks = append(h.checks[:i], h.checks[i+1:]...)
			return
		}
	}
}

// SetDraining marks the instance as shutting down; readiness then fails
// so load balancers stop routing new requests here.
func (h *Handler) SetDraining(draining bool) {
	h.draining.Store(draining)
	if draining {
		h.metrics.drainingActive.Set(1)
	} else {
		h.metrics.drainingActive.Set(0)
	}
}

// IsDraining reports whether the instance is draining.
func (h *Handler) IsDraining() bool {
	return h.draining.Load()
}

// LivenessHandler answers while the process serves HTTP.
func (h *Handler) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.metrics.probesTotal.WithLabelValues(probeLiveness, statusOK).Inc()
		c.JSON(http.StatusOK, HealthStatus{
			Status:    statusOK,
			Version:   h.version,
			Timestamp: time.Now().UTC(),
			Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		})
	}
}

// ReadinessHandler runs every check and answers 503 when one fails or
// the instance is draining.
func (h *Handler) ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.IsDraining() {
			h.metrics.probesTotal.WithLabelValues(probeReadiness, statusDraining).Inc()
			c.JSON(http.StatusServiceUnavailable, HealthStatus{
				Status:    statusDraining,
				Version:   h.version,
				Timestamp: time.Now().UTC(),
			})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
		defer cancel()

		status := h.runChecks(ctx)
		h.metrics.probesTotal.WithLabelValues(probeReadiness, status.Status).Inc()

		statusCode := http.StatusOK
		if status.Status != statusOK {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, status)
	}
}

func (h *Handler) runChecks(ctx context.Context) *HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	status := &HealthStatus{
		Status:    statusOK,
		Version:   h.version,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]*CheckResult, len(checks)),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, check := range checks {
		wg.Add(1)
		go func(c HealthCheck) {
			defer wg.Done()

			start := time.Now()
			err := c.Check(ctx)
			duration := time.Since(start)
			h.metrics.checkDuration.WithLabelValues(c.Name()).Observe(duration.Seconds())

			result := &CheckResult{Status: statusOK, Duration: duration.String()}
			gauge := 1.0
			if err != nil {
				result.Status = statusError
				result.Error = err.Error()
				gauge = 0

				h.logger.Warn("health check failed",
					observability.String("check", c.Name()),
					observability.Error(err),
					observability.Duration("duration", duration),
				)
			}
			h.metrics.dependencyUp.WithLabelValues(c.Name()).Set(gauge)

			mu.Lock()
			status.Checks[c.Name()] = result
			if err != nil {
				status.Status = statusError
			}
			mu.Unlock()
		}(check)
	}

	wg.Wait()
	return status
}

// RegisterRoutes registers the health endpoints.
func (h *Handler) RegisterRoutes(routes gin.IRoutes) {
	routes.GET("/healthz", h.LivenessHandler())
	routes.GET("/livez", h.LivenessHandler())
	routes.GET("/readyz", h.ReadinessHandler())
}
