package venue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks REST calls per venue, method and status.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_venue_requests_total",
			Help: "Total number of venue REST requests",
		},
		[]string{"venue", "method", "status"},
	)

	// RequestDuration tracks REST call latency per venue and method.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arb_venue_request_duration_seconds",
			Help:    "Venue REST request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"venue", "method"},
	)

	// OrdersPlacedTotal tracks order submissions per venue and side.
	OrdersPlacedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_venue_orders_placed_total",
			Help: "Total number of orders placed",
		},
		[]string{"venue", "side"},
	)
)
