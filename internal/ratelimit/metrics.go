package ratelimit

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultAllowed  = "allowed"
	resultRejected = "rejected"
	resultError    = "error"
)

var (
	defaultRateLimitMetrics     *Metrics
	defaultRateLimitMetricsOnce sync.Once
)

// GetRateLimitMetrics returns the singleton rate limit metrics instance.
func GetRateLimitMetrics() *Metrics {
	defaultRateLimitMetricsOnce.Do(func() {
		defaultRateLimitMetrics = NewMetrics("govgate")
	})
	return defaultRateLimitMetrics
}

// Metrics contains rate limiter metrics.
type Metrics struct {
	decisions *prometheus.CounterVec
	limit     *prometheus.GaugeVec
}

// NewMetrics creates rate limiter metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		decisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "decisions_total",
				Help:      "Total number of rate limit decisions by class and result",
			},
			[]string{"class", "result"},
		),
		limit: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "limit_requests",
				Help:      "Configured maximum requests per window by class",
			},
			[]string{"class"},
		),
	}
}

// MustRegister registers the rate limiter collectors with registry.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(m.decisions, m.limit)
}

// Init pre-populates label combinations.
func (m *Metrics) Init() {
	for _, class := range Classes() {
		for _, result := range []string{resultAllowed, resultRejected, resultError} {
			m.decisions.WithLabelValues(class, result)
		}
	}
}

// ObserveLimits publishes the configured limits.
func (m *Metrics) ObserveLimits(limits map[string]Limit) {
	for class, limit := range limits {
		m.limit.WithLabelValues(class).Set(float64(limit.Max))
	}
}
