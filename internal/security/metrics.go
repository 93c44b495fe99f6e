package security

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	defaultSecurityMetrics     *Metrics
	defaultSecurityMetricsOnce sync.Once
)

// GetSecurityMetrics returns the singleton security metrics instance.
func GetSecurityMetrics() *Metrics {
	defaultSecurityMetricsOnce.Do(func() {
		defaultSecurityMetrics = NewMetrics("govgate")
	})
	return defaultSecurityMetrics
}

// Metrics contains security header metrics.
type Metrics struct {
	// headersApplied counts headers written by the policy.
	headersApplied *prometheus.CounterVec

	// headersPreserved counts policy headers left alone because the
	// handler had already set them.
	headersPreserved *prometheus.CounterVec

	score prometheus.Gauge
}

// NewMetrics creates security metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		headersApplied: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "security",
				Name:      "headers_applied_total",
				Help:      "Total number of times security headers were applied",
			},
			[]string{"header"},
		),
		headersPreserved: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "security",
				Name:      "headers_preserved_total",
				Help:      "Total number of policy headers not written because the response already had them",
			},
			[]string{"header"},
		),
		score: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "security",
				Name:      "policy_score",
				Help:      "Self-assessed score of the configured header policy",
			},
		),
	}
}

// MustRegister registers the security collectors with registry. promauto
// registers with the global registry; the gateway serves its own.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.headersApplied,
		m.headersPreserved,
		m.score,
	)
}

// Init pre-populates common label combinations.
func (m *Metrics) Init() {
	for _, header := range []string{
		HeaderXContentTypeOptions,
		HeaderXFrameOptions,
		HeaderXXSSProtection,
		HeaderReferrerPolicy,
		HeaderContentSecurityPolicy,
	} {
		m.headersApplied.WithLabelValues(header)
		m.headersPreserved.WithLabelValues(header)
	}
}
