package health

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Probe names used as metric labels.
const (
	probeLiveness  = "liveness"
	probeReadiness = "readiness"
)

// HealthMetrics holds Prometheus metrics for the probe endpoints and the
// dependency checks behind readiness.
type HealthMetrics struct {
	probesTotal    *prometheus.CounterVec
	dependencyUp   *prometheus.GaugeVec
	checkDuration  *prometheus.HistogramVec
	drainingActive prometheus.Gauge
}

var (
	healthMetricsInstance *HealthMetrics
	healthMetricsOnce     sync.Once
)

// GetHealthMetrics returns the singleton health metrics instance.
func GetHealthMetrics() *HealthMetrics {
	healthMetricsOnce.Do(func() {
		healthMetricsInstance = &HealthMetrics{
			probesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "govgate",
					Subsystem: "health",
					Name:      "probes_total",
					Help:      "Probe requests served by probe and outcome",
				},
				[]string{"probe", "status"},
			),
			dependencyUp: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: "govgate",
					Subsystem: "health",
					Name:      "dependency_up",
					Help:      "Last readiness result per dependency (1=up, 0=down)",
				},
				[]string{"check"},
			),
			checkDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "govgate",
					Subsystem: "health",
					Name:      "check_duration_seconds",
					Help:      "Duration of dependency checks",
					Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2},
				},
				[]string{"check"},
			),
			drainingActive: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "govgate",
					Subsystem: "health",
					Name:      "draining",
					Help:      "Whether the instance is draining (1=draining)",
				},
			),
		}
	})
	return healthMetricsInstance
}

// MustRegister registers the health collectors with registry.
func (m *HealthMetrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.probesTotal,
		m.dependencyUp,
		m.checkDuration,
		m.drainingActive,
	)
}

// Init pre-populates label combinations.
func (m *HealthMetrics) Init() {
	m.probesTotal.WithLabelValues(probeLiveness, statusOK)
	for _, status := range []string{statusOK, statusError, statusDraining} {
		m.probesTotal.WithLabelValues(probeReadiness, status)
	}
}
