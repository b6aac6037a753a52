// Package metrics records allocation and refinement outcomes as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/myrjola/groupworkout/internal/allocation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcomes.
const (
	OutcomeOK      = "ok"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// Manager holds the metrics of the allocation engine. A nil *Manager records nothing.
type Manager struct {
	// counters
	CounterRuns        *prometheus.CounterVec
	CounterClients     *prometheus.CounterVec
	CounterWarnings    prometheus.Counter
	CounterGaps        *prometheus.CounterVec
	CounterRefinements *prometheus.CounterVec

	// gauges
	GaugeSharedPool prometheus.Gauge

	// histograms
	HistAssembleDuration prometheus.Histogram
	HistRefineDuration   prometheus.Histogram
}

func NewTestManagerAndRegistry() (*Manager, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewManager("groupworkout", "test", reg), reg
}

func NewManager(namespace, subsystem string, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)

	counterRuns := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "allocation_runs",
		Help:      "The total number of allocation runs by outcome",
	}, []string{"outcome"})
	counterClients := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "allocated_clients",
		Help:      "The total number of clients processed by allocation runs",
	}, []string{"outcome"})
	counterWarnings := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "validation_warnings",
		Help:      "The total number of blueprint validation warnings",
	})
	counterGaps := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "bucket_gaps",
		Help:      "The total number of unfilled bucket quotas",
	}, []string{"bucket_type"})
	counterRefinements := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "refinements",
		Help:      "The total number of client refinements by selection source",
	}, []string{"source"})

	gaugeSharedPool := factory.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        "shared_pool_size",
		Help:        "Size of the shared exercise pool of the latest run",
		ConstLabels: nil,
	})

	histAssembleDuration := factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			Name:      "assemble_duration_seconds",
			Help:      "Total duration of blueprint assembly in seconds",
		},
	)
	histRefineDuration := factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			Name:      "refine_duration_seconds",
			Help:      "Duration of a single client refinement in seconds",
		},
	)

	return &Manager{
		CounterRuns:          counterRuns,
		CounterClients:       counterClients,
		CounterWarnings:      counterWarnings,
		CounterGaps:          counterGaps,
		CounterRefinements:   counterRefinements,
		GaugeSharedPool:      gaugeSharedPool,
		HistAssembleDuration: histAssembleDuration,
		HistRefineDuration:   histRefineDuration,
	}
}

// ObserveBlueprint records the outcome of an assembly run. err is the error returned with the blueprint.
func (m *Manager) ObserveBlueprint(bp allocation.Blueprint, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	switch {
	case err != nil && len(bp.ClientOrder) == 0:
		outcome = OutcomeFailed
	case err != nil:
		outcome = OutcomePartial
	}
	m.CounterRuns.WithLabelValues(outcome).Inc()
	m.CounterClients.WithLabelValues(OutcomeOK).Add(float64(len(bp.ClientOrder)))
	m.CounterClients.WithLabelValues(OutcomeFailed).Add(float64(len(bp.FailedClients)))
	m.CounterWarnings.Add(float64(len(bp.ValidationWarnings)))
	for _, pool := range bp.ClientPools {
		for _, gap := range pool.BucketedSelection.Gaps {
			m.CounterGaps.WithLabelValues(string(gap.BucketType)).Inc()
		}
	}
	m.GaugeSharedPool.Set(float64(len(bp.SharedExercisePool)))
	m.HistAssembleDuration.Observe(duration.Seconds())
}

// ObserveRefinement records a single client refinement.
func (m *Manager) ObserveRefinement(source string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CounterRefinements.WithLabelValues(source).Inc()
	m.HistRefineDuration.Observe(duration.Seconds())
}
