package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExecutionsTotal counts execution attempts by terminal outcome.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_executor_executions_total",
			Help: "Total number of execution attempts by outcome",
		},
		[]string{"outcome"},
	)

	// ExecutionDuration tracks the wall time of one execution attempt.
	ExecutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arb_executor_execution_duration_seconds",
		Help:    "Duration of execution attempts",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	})

	// AbortsTotal counts pre-fill aborts by reason.
	AbortsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_executor_aborts_total",
			Help: "Total number of aborted executions by reason",
		},
		[]string{"reason"},
	)

	// UnwindsTotal counts excess-leg resolutions by action.
	UnwindsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_executor_unwinds_total",
			Help: "Total number of excess-leg unwinds by action",
		},
		[]string{"action"},
	)

	// PreTradeSourceTotal tracks whether pre-trade books came from the cache
	// or a REST fallback.
	PreTradeSourceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_executor_pretrade_book_source_total",
			Help: "Total number of pre-trade book reads by source",
		},
		[]string{"venue", "source"},
	)
)
