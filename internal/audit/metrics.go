package audit

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains audit metrics.
type Metrics struct {
	eventsTotal      *prometheus.CounterVec
	eventsSuppressed *prometheus.CounterVec
}

// NewMetrics creates audit metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates audit metrics registered with
// registerer. Duplicate registration is ignored because the descriptors
// are identical.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "govgate"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "events_total",
				Help:      "Total number of security audit events",
			},
			[]string{"kind"},
		),
		eventsSuppressed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "events_suppressed_total",
				Help:      "Total number of audit events not written because of throttling",
			},
			[]string{"kind"},
		),
	}

	m.eventsTotal = registerOrExisting(registerer, m.eventsTotal)
	m.eventsSuppressed = registerOrExisting(registerer, m.eventsSuppressed)

	m.Init()

	return m
}

func registerOrExisting(registerer prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}

// Init pre-populates every event kind with zero values.
func (m *Metrics) Init() {
	for _, kind := range Kinds() {
		m.eventsTotal.WithLabelValues(string(kind))
		m.eventsSuppressed.WithLabelValues(string(kind))
	}
}
