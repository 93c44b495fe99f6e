package store

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	defaultStoreMetrics     *Metrics
	defaultStoreMetricsOnce sync.Once
)

// GetStoreMetrics returns the singleton store metrics instance.
func GetStoreMetrics() *Metrics {
	defaultStoreMetricsOnce.Do(func() {
		defaultStoreMetrics = NewMetrics("govgate")
	})
	return defaultStoreMetrics
}

// Metrics contains rate limit store metrics.
type Metrics struct {
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	connectRetries    prometheus.Counter
	connectErrors     prometheus.Counter
	breakerState      prometheus.Gauge
	fallbacks         *prometheus.CounterVec
}

// NewMetrics creates store metrics registered with the default registerer.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		operations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit_store",
				Name:      "operations_total",
				Help:      "Total number of Redis window store operations",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ratelimit_store",
				Name:      "operation_duration_seconds",
				Help:      "Duration of Redis window store operations in seconds",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"operation"},
		),
		connectRetries: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "redis",
				Name:      "connection_retries_total",
				Help:      "Total number of Redis connection retry attempts",
			},
		),
		connectErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "redis",
				Name:      "connection_errors_total",
				Help:      "Total number of Redis connection errors",
			},
		),
		breakerState: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ratelimit_store",
				Name:      "breaker_state",
				Help:      "State of the window store circuit breaker (0=closed, 1=half-open, 2=open)",
			},
		),
		fallbacks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit_store",
				Name:      "fallback_total",
				Help:      "Total number of window store operations served by the fallback store",
			},
			[]string{"operation"},
		),
	}
}

// MustRegister registers the store collectors with registry.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.operations,
		m.operationDuration,
		m.connectRetries,
		m.connectErrors,
		m.breakerState,
		m.fallbacks,
	)
}

// Init pre-populates label combinations.
func (m *Metrics) Init() {
	for _, op := range []string{opWindow, opRecord, opDelete, opClear} {
		m.operations.WithLabelValues(op, statusSuccess)
		m.operations.WithLabelValues(op, statusError)
		m.fallbacks.WithLabelValues(op)
	}
}
