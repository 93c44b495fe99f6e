package csrf

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Check results.
const (
	resultPassed   = "passed"
	resultRejected = "rejected"
	resultExempt   = "exempt"
	resultError    = "error"
)

var (
	defaultCSRFMetrics     *Metrics
	defaultCSRFMetricsOnce sync.Once
)

// GetCSRFMetrics returns the singleton CSRF metrics instance.
func GetCSRFMetrics() *Metrics {
	defaultCSRFMetricsOnce.Do(func() {
		defaultCSRFMetrics = NewMetrics("govgate")
	})
	return defaultCSRFMetrics
}

// Metrics contains CSRF guard metrics.
type Metrics struct {
	tokensIssued prometheus.Counter
	checks       *prometheus.CounterVec
}

// NewMetrics creates CSRF metrics registered with the default registerer.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		tokensIssued: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "csrf",
				Name:      "tokens_issued_total",
				Help:      "Total number of CSRF tokens issued",
			},
		),
		checks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "csrf",
				Name:      "checks_total",
				Help:      "Total number of CSRF checks by result",
			},
			[]string{"result"},
		),
	}
}

// MustRegister registers the CSRF collectors with registry.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(m.tokensIssued, m.checks)
}

// Init pre-populates label combinations.
func (m *Metrics) Init() {
	for _, result := range []string{resultPassed, resultRejected, resultExempt, resultError} {
		m.checks.WithLabelValues(result)
	}
}
