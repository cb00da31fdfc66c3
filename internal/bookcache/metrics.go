package bookcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SnapshotsAppliedTotal tracks full book snapshots applied per venue.
	SnapshotsAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_bookcache_snapshots_applied_total",
			Help: "Total number of order book snapshots applied",
		},
		[]string{"venue"},
	)

	// DeltasAppliedTotal tracks incremental updates applied per venue.
	DeltasAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_bookcache_deltas_applied_total",
			Help: "Total number of order book deltas applied",
		},
		[]string{"venue"},
	)

	// DeltasDroppedTotal tracks deltas dropped for lack of a base snapshot.
	DeltasDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_bookcache_deltas_dropped_total",
			Help: "Total number of order book deltas dropped without a snapshot",
		},
		[]string{"venue"},
	)

	// StaleReadsTotal tracks reads rejected by the freshness window.
	StaleReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_bookcache_stale_reads_total",
			Help: "Total number of book reads rejected as stale or missing",
		},
		[]string{"venue", "reason"},
	)

	// TrackedBooks tracks the number of instruments with a cached book.
	TrackedBooks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arb_bookcache_tracked_books",
		Help: "Number of instruments with a cached order book",
	})
)
