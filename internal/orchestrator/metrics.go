package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HandlerDuration tracks fan-out handler latency.
	// Labels: category, status (ok, degraded, failed)
	HandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "grape_coder",
			Subsystem: "dispatch",
			Name:      "handler_duration_seconds",
			Help:      "Duration of category handler invocations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		},
		[]string{"category", "status"},
	)

	// HandlerFailures counts failed handler invocations.
	// Labels: category
	HandlerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grape_coder",
			Subsystem: "dispatch",
			Name:      "handler_failures_total",
			Help:      "Total number of failed category handler invocations",
		},
		[]string{"category"},
	)

	// ClassificationAnomalies counts tasks routed to the pass-through bucket
	// because their label was not recognized.
	ClassificationAnomalies = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "grape_coder",
			Subsystem: "dispatch",
			Name:      "classification_anomalies_total",
			Help:      "Total number of tasks with unrecognized category labels",
		},
	)

	// LoopIterations counts review-revise iterations entered.
	LoopIterations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "grape_coder",
			Subsystem: "loop",
			Name:      "iterations_total",
			Help:      "Total number of quality gate iterations",
		},
	)

	// RubricScore holds the latest score per rubric category.
	RubricScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "grape_coder",
			Subsystem: "loop",
			Name:      "rubric_score",
			Help:      "Latest score per rubric category (0-20)",
		},
		[]string{"rubric"},
	)

	// BudgetRemaining is the tool-call budget left in the current iteration.
	BudgetRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "grape_coder",
			Subsystem: "loop",
			Name:      "tool_budget_remaining",
			Help:      "Tool calls remaining in the current iteration",
		},
	)

	// RunsTotal counts finished runs.
	// Labels: outcome (approved, exhausted, failed)
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grape_coder",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by outcome",
		},
		[]string{"outcome"},
	)
)

func recordScores(scores Scores) {
	for _, c := range RubricCategories {
		RubricScore.WithLabelValues(string(c)).Set(float64(scores[c]))
	}
}
