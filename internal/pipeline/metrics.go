package pipeline

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	defaultPipelineMetrics     *Metrics
	defaultPipelineMetricsOnce sync.Once
)

// GetPipelineMetrics returns the singleton pipeline metrics instance.
func GetPipelineMetrics() *Metrics {
	defaultPipelineMetricsOnce.Do(func() {
		defaultPipelineMetrics = NewMetrics("govgate")
	})
	return defaultPipelineMetrics
}

// Metrics contains pipeline metrics.
type Metrics struct {
	stageInvocations *prometheus.CounterVec
	shortCircuits    *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	stagesSkipped    *prometheus.CounterVec
	chainBuilds      *prometheus.CounterVec
}

// NewMetrics creates pipeline metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return newMetrics(namespace, prometheus.DefaultRegisterer)
}

func newMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		stageInvocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "stage_invocations_total",
				Help:      "Total number of pipeline stage invocations",
			},
			[]string{"group", "stage"},
		),
		shortCircuits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "stage_short_circuits_total",
				Help:      "Total number of requests ended by a stage without calling the next handler",
			},
			[]string{"group", "stage"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "stage_duration_seconds",
				Help:      "Time spent in a stage including the stages after it",
				Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"stage"},
		),
		stagesSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "stages_skipped_total",
				Help:      "Total number of unregistered stages skipped while building chains",
			},
			[]string{"group", "stage"},
		),
		chainBuilds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "chain_builds_total",
				Help:      "Total number of pipeline chain builds",
			},
			[]string{"group"},
		),
	}
}

// MustRegister registers the pipeline collectors with registry, which
// serves /metrics separately from the default registerer.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.stageInvocations,
		m.shortCircuits,
		m.stageDuration,
		m.stagesSkipped,
		m.chainBuilds,
	)
}

// Init pre-populates label combinations of the default groups so the
// series are exported before the first request.
func (m *Metrics) Init() {
	for group, stages := range DefaultGroups() {
		m.chainBuilds.WithLabelValues(group)
		for _, stage := range stages {
			m.stageInvocations.WithLabelValues(group, stage)
			m.shortCircuits.WithLabelValues(group, stage)
		}
	}
}
