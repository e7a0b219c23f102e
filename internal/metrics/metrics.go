// Package metrics provides Prometheus instrumentation for the orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tiregen"

var (
	// AttemptsTotal counts generation attempts by provider and outcome.
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_attempts_total",
			Help:      "Generation attempts by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	// FallbacksTotal counts requests that were served by a fallback
	// provider rather than the preferred one.
	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Requests served by a fallback provider",
		},
		[]string{"task_type"},
	)

	// SpendUSD accumulates actual generation spend.
	SpendUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spend_usd_total",
			Help:      "Actual generation spend in USD",
		},
		[]string{"provider", "task_type"},
	)

	// BudgetVetoesTotal counts attempts blocked by the budget governor.
	BudgetVetoesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_vetoes_total",
			Help:      "Attempts blocked by the budget governor",
		},
		[]string{"window"},
	)

	// BudgetRemainingUSD tracks remaining budget per rolling window.
	BudgetRemainingUSD = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_remaining_usd",
			Help:      "Remaining budget for the rolling window in USD",
		},
		[]string{"window"},
	)

	// AttemptDuration observes provider call latency.
	AttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Provider call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
)
