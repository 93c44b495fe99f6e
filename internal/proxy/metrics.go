package proxy

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the terminal proxy.
type Metrics struct {
	errors           *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	notFound         prometheus.Counter
}

var (
	proxyMetricsInstance *Metrics
	proxyMetricsOnce     sync.Once
)

// GetProxyMetrics returns the singleton proxy metrics instance.
func GetProxyMetrics() *Metrics {
	proxyMetricsOnce.Do(func() {
		proxyMetricsInstance = NewMetrics("govgate")
	})
	return proxyMetricsInstance
}

// NewMetrics creates proxy metrics registered with the default registerer.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		errors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "errors_total",
				Help: "Total number of " +
					"proxy errors",
			},
			[]string{"error_type"},
		),
		upstreamDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name: "upstream_duration" +
					"_seconds",
				Help: "Duration of upstream " +
					"proxy requests",
				Buckets: []float64{
					.001, .005, .01, .025,
					.05, .1, .25, .5,
					1, 2.5, 5, 10,
				},
			},
			[]string{"status_class"},
		),
		notFound: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "not_found_total",
				Help:      "Total number of requests answered 404 without an upstream",
			},
		),
	}
}

// MustRegister registers the proxy collectors with registry.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(m.errors, m.upstreamDuration, m.notFound)
}

// Init pre-populates label combinations.
func (m *Metrics) Init() {
	for _, et := range []string{
		errorTypeTimeout,
		errorTypeConnectionRefused,
		errorTypeCanceled,
		errorTypeBadGateway,
	} {
		m.errors.WithLabelValues(et)
	}
}
