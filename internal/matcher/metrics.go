package matcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MatchesTotal tracks accepted pairs by kind.
	MatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_matcher_matches_total",
			Help: "Total number of equivalent market pairs produced",
		},
		[]string{"kind"},
	)

	// RejectionsTotal tracks rejected candidates by the rule that failed.
	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_matcher_rejections_total",
			Help: "Total number of candidate pairs rejected, by rule",
		},
		[]string{"rule"},
	)
)
