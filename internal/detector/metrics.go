package detector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EvaluationsTotal tracks full scenario evaluations.
	EvaluationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arb_detector_evaluations_total",
		Help: "Total number of full arbitrage evaluations",
	})

	// OpportunitiesTotal tracks emitted opportunities by strategy.
	OpportunitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_detector_opportunities_total",
			Help: "Total number of opportunities detected",
		},
		[]string{"strategy"},
	)

	// PrefilterSkipsTotal tracks evaluations skipped by the gross ceiling.
	PrefilterSkipsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arb_detector_prefilter_skips_total",
		Help: "Total number of evaluations skipped by the gross pre-filter",
	})

	// MemoHitsTotal tracks detections served from the short-TTL memo.
	MemoHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arb_detector_memo_hits_total",
		Help: "Total number of detections served from the memo cache",
	})

	// PriceSourceTotal tracks whether leg prices came from live books or
	// discovery snapshots.
	PriceSourceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_detector_price_source_total",
			Help: "Total number of leg price reads by source",
		},
		[]string{"venue", "source"},
	)

	// NetProfitGauge reports the net edge of the last detected opportunity.
	NetProfitGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arb_detector_last_net_profit",
		Help: "Net profit per contract of the most recent opportunity",
	})
)
