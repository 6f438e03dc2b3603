// Package metrics registers the engine's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Creations counts recommendations created by the scan cycle.
	Creations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recengine_creations_total",
		Help: "Recommendations created",
	})

	// Transitions counts applied status transitions by edge.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recengine_transitions_total",
		Help: "Applied status transitions",
	}, []string{"from", "to"})

	// CooldownBlocks counts creations rejected by the cooldown window.
	CooldownBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recengine_cooldown_blocks_total",
		Help: "Creations blocked by cooldown",
	})

	// InvalidTransitions counts rejected forbidden edges. Nonzero values
	// indicate a caller bug, not a transient condition.
	InvalidTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recengine_invalid_transitions_total",
		Help: "Transitions rejected by the transition graph",
	})

	// EvaluationCycleSeconds tracks evaluation cycle wall time.
	EvaluationCycleSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "recengine_evaluation_cycle_seconds",
		Help:    "Evaluation cycle duration",
		Buckets: prometheus.DefBuckets,
	})

	// EvaluationSkips counts rows skipped in a cycle because no current
	// price was available.
	EvaluationSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recengine_evaluation_skips_total",
		Help: "Evaluations skipped due to missing prices",
	})
)
