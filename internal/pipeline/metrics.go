package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storytime_pipeline_runs_total",
			Help: "Total number of pipeline runs by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storytime_pipeline_step_duration_seconds",
			Help:    "Duration of pipeline steps.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"step", "outcome"},
	)
	safetyViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storytime_safety_violations_total",
			Help: "Total number of generated texts rejected by the safety gate.",
		},
		[]string{"severity"},
	)
	degradedAssetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storytime_degraded_assets_total",
			Help: "Total number of assets replaced by a fallback.",
		},
		[]string{"asset"},
	)
	estimatedCost = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "storytime_run_estimated_cost_usd",
			Help:    "Estimated provider cost of a completed run.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
		},
	)
)
