package session

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	backendMemory = "memory"
	backendRedis  = "redis"
)

var (
	defaultSessionMetrics     *Metrics
	defaultSessionMetricsOnce sync.Once
)

// GetSessionMetrics returns the singleton session metrics instance.
func GetSessionMetrics() *Metrics {
	defaultSessionMetricsOnce.Do(func() {
		defaultSessionMetrics = NewMetrics("govgate")
	})
	return defaultSessionMetrics
}

// Metrics contains session metrics.
type Metrics struct {
	created     prometheus.Counter
	active      *prometheus.GaugeVec
	storeErrors *prometheus.CounterVec
}

// NewMetrics creates session metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		created: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "created_total",
				Help:      "Total number of sessions created",
			},
		),
		active: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "active",
				Help:      "Number of sessions held by the store after the last sweep",
			},
			[]string{"backend"},
		),
		storeErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "store_errors_total",
				Help:      "Total number of failed session store operations",
			},
			[]string{"backend", "operation"},
		),
	}
}

// MustRegister registers the session collectors with registry.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(m.created, m.active, m.storeErrors)
}

// Init pre-populates label combinations.
func (m *Metrics) Init() {
	m.active.WithLabelValues(backendMemory)
	for _, op := range []string{"get", "set", "remove", "touch", "exists", "destroy"} {
		m.storeErrors.WithLabelValues(backendRedis, op)
	}
}
