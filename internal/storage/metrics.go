package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WritesTotal tracks successful writes per table.
	WritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_storage_writes_total",
			Help: "Total number of successful storage writes",
		},
		[]string{"table"},
	)

	// WriteFailuresTotal tracks failed writes per table.
	WriteFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_storage_write_failures_total",
			Help: "Total number of failed storage writes",
		},
		[]string{"table"},
	)
)
