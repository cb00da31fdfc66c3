package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DiscoveryRunsTotal counts completed discovery sweeps.
	DiscoveryRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arb_controller_discovery_runs_total",
		Help: "Total number of completed market discovery sweeps",
	})

	// TrackedPairs reports the number of pairs currently monitored.
	TrackedPairs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arb_controller_tracked_pairs",
		Help: "Number of matched pairs currently monitored",
	})

	// RejectedPairsTotal counts scans rejected by the tradability filter.
	RejectedPairsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arb_controller_rejected_pairs_total",
		Help: "Total number of scans rejected by the tradable price band",
	})

	// ExecutionHandoffsTotal counts opportunities handed to the executor.
	ExecutionHandoffsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arb_controller_execution_handoffs_total",
		Help: "Total number of opportunities handed to the executor",
	})

	// ScanPanicsTotal counts panics recovered inside the scan loop.
	ScanPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arb_controller_scan_panics_total",
		Help: "Total number of panics recovered in the scan loop",
	})

	// TokenValidationTotal counts Polymarket token validations by verdict.
	TokenValidationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_controller_token_validation_total",
		Help: "Polymarket token liquidity validations by verdict",
	}, []string{"verdict"})
)
