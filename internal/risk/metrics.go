package risk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BankrollGauge reports the cached bankroll.
	BankrollGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arb_risk_bankroll",
		Help: "Cached bankroll from the last balance sync",
	})

	// ExposureGauge reports open net exposure.
	ExposureGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arb_risk_exposure",
		Help: "Current open net exposure",
	})

	// DailyPnlGauge reports realized PnL for the current UTC day.
	DailyPnlGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arb_risk_daily_pnl",
		Help: "Realized profit and loss for the current UTC day",
	})

	// KillSwitchGauge is 1 while the kill switch is engaged.
	KillSwitchGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arb_risk_kill_switch",
		Help: "Whether the kill switch is engaged",
	})

	// RejectionsTotal tracks risk rejections by limit.
	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_risk_rejections_total",
			Help: "Total number of trades rejected by the risk gate",
		},
		[]string{"limit"},
	)

	// BalanceSyncFailuresTotal tracks failed background balance syncs.
	BalanceSyncFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arb_risk_balance_sync_failures_total",
		Help: "Total number of failed balance syncs",
	})

	// DailyResetsTotal tracks UTC day rollovers.
	DailyResetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arb_risk_daily_resets_total",
		Help: "Total number of daily risk counter resets",
	})
)
