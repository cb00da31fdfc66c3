package eventlog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EnqueuedTotal tracks accepted events by kind.
	EnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_eventlog_enqueued_total",
			Help: "Total number of events accepted into the queue",
		},
		[]string{"kind"},
	)

	// DroppedTotal tracks events dropped because the queue was full.
	DroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_eventlog_dropped_total",
			Help: "Total number of events dropped on a full queue",
		},
		[]string{"kind"},
	)

	// QueueDepth reports the current queue occupancy.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arb_eventlog_queue_depth",
		Help: "Current number of queued events",
	})
)
