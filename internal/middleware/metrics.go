package middleware

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MiddlewareMetrics holds Prometheus metrics for middleware
// operations.
type MiddlewareMetrics struct {
	panicsRecovered prometheus.Counter
	corsRequests    *prometheus.CounterVec
	authDecisions   *prometheus.CounterVec
	adminDecisions  *prometheus.CounterVec
	jsonRejected    *prometheus.CounterVec
	sanitized       *prometheus.CounterVec
}

var (
	middlewareMetrics     *MiddlewareMetrics
	middlewareMetricsOnce sync.Once
)

// GetMiddlewareMetrics returns the singleton middleware metrics
// instance.
func GetMiddlewareMetrics() *MiddlewareMetrics {
	middlewareMetricsOnce.Do(func() {
		middlewareMetrics = NewMetrics("govgate")
	})
	return middlewareMetrics
}

// NewMetrics creates middleware metrics registered with the default
// registerer.
//
//nolint:funlen // metric initialization requires many declarations
func NewMetrics(namespace string) *MiddlewareMetrics {
	return &MiddlewareMetrics{
		panicsRecovered: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "middleware",
				Name:      "panics_recovered_total",
				Help: "Total number of panics " +
					"recovered",
			},
		),
		corsRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "middleware",
				Name:      "cors_requests_total",
				Help: "Total number of CORS " +
					"requests by type",
			},
			[]string{"type"},
		),
		authDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "middleware",
				Name:      "auth_decisions_total",
				Help: "Total number of auth stage " +
					"decisions by result",
			},
			[]string{"result"},
		),
		adminDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "middleware",
				Name:      "admin_decisions_total",
				Help: "Total number of admin stage " +
					"decisions by result",
			},
			[]string{"result"},
		),
		jsonRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "middleware",
				Name:      "json_rejected_total",
				Help: "Total number of request bodies " +
					"rejected by the JSON parser",
			},
			[]string{"reason"},
		),
		sanitized: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "middleware",
				Name:      "sanitized_requests_total",
				Help: "Total number of requests whose " +
					"input values were rewritten",
			},
			[]string{"source"},
		),
	}
}

// MustRegister registers the middleware collectors with registry.
func (m *MiddlewareMetrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.panicsRecovered,
		m.corsRequests,
		m.authDecisions,
		m.adminDecisions,
		m.jsonRejected,
		m.sanitized,
	)
}

// Init pre-populates label combinations.
func (m *MiddlewareMetrics) Init() {
	for _, t := range []string{corsPreflight, corsActual, corsNoOrigin, corsDenied} {
		m.corsRequests.WithLabelValues(t)
	}
	for _, r := range []string{authPublic, authAuthenticated, authMissing, authInvalid, authExpired} {
		m.authDecisions.WithLabelValues(r)
	}
	for _, r := range []string{adminPolicy, adminKey, adminDenied, adminError} {
		m.adminDecisions.WithLabelValues(r)
	}
	for _, r := range []string{jsonTooLarge, jsonSyntax, jsonRead} {
		m.jsonRejected.WithLabelValues(r)
	}
	for _, s := range []string{"query", "form"} {
		m.sanitized.WithLabelValues(s)
	}
}
