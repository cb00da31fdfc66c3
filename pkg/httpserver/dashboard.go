package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/crossvenue/kalshi-poly-arb/internal/risk"
	"github.com/crossvenue/kalshi-poly-arb/internal/storage"
	"go.uber.org/zap"
)

const defaultListLimit = 100

// dashboard serves the read-only session views over the store.
type dashboard struct {
	store      storage.Store
	gate       *risk.Gate
	simulation bool
	logger     *zap.Logger
}

func newDashboard(store storage.Store, gate *risk.Gate, simulation bool, logger *zap.Logger) *dashboard {
	return &dashboard{store: store, gate: gate, simulation: simulation, logger: logger}
}

type statusResponse struct {
	SimulationMode bool    `json:"simulation_mode"`
	Bankroll       float64 `json:"bankroll"`
	Exposure       float64 `json:"exposure"`
	DailyPnl       float64 `json:"daily_pnl"`
	KillSwitch     bool    `json:"kill_switch"`
	KillReason     string  `json:"kill_reason,omitempty"`
}

func (d *dashboard) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{SimulationMode: d.simulation}
	if d.gate != nil {
		resp.Bankroll = d.gate.Bankroll()
		resp.Exposure = d.gate.Exposure()
		resp.DailyPnl = d.gate.DailyPnl()
		resp.KillSwitch, resp.KillReason = d.gate.KillSwitchEngaged()
	}
	d.writeJSON(w, resp)
}

func (d *dashboard) handleMarkets(w http.ResponseWriter, r *http.Request) {
	rows, err := d.store.ListMatchedMarkets(r.Context())
	if err != nil {
		d.writeError(w, err)
		return
	}
	d.writeJSON(w, rows)
}

func (d *dashboard) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	rows, err := d.store.ListEvaluations(r.Context(), listLimit(r))
	if err != nil {
		d.writeError(w, err)
		return
	}
	d.writeJSON(w, rows)
}

func (d *dashboard) handleTrades(w http.ResponseWriter, r *http.Request) {
	rows, err := d.store.ListTrades(r.Context(), listLimit(r))
	if err != nil {
		d.writeError(w, err)
		return
	}
	d.writeJSON(w, rows)
}

func (d *dashboard) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := d.store.Stats(r.Context())
	if err != nil {
		d.writeError(w, err)
		return
	}
	d.writeJSON(w, stats)
}

func listLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	return limit
}

func (d *dashboard) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		d.logger.Error("dashboard-encode-failed", zap.Error(err))
	}
}

func (d *dashboard) writeError(w http.ResponseWriter, err error) {
	d.logger.Error("dashboard-query-failed", zap.Error(err))
	http.Error(w, `{"error": "internal error"}`, http.StatusInternalServerError)
}
