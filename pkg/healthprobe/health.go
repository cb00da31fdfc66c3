// Package healthprobe provides liveness and readiness HTTP handlers.
package healthprobe

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// Checker serves health and readiness checks. Readiness combines the app's
// own flag with an optional veto callback, which the trading loop uses to
// report a degraded state (e.g. kill switch engaged) without restarting.
type Checker struct {
	startTime time.Time
	ready     atomic.Bool
	veto      atomic.Pointer[func() (bool, string)]
}

// New creates a health checker. The app starts not-ready.
func New() *Checker {
	return &Checker{startTime: time.Now()}
}

// SetReady marks the application as ready to serve traffic.
func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

// SetVeto installs a callback consulted on every readiness check. Returning
// (true, reason) reports 503 with the reason even while the app is ready.
func (c *Checker) SetVeto(fn func() (vetoed bool, reason string)) {
	c.veto.Store(&fn)
}

type response struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Message string `json:"message,omitempty"`
}

// Health is the liveness handler: 200 whenever the process runs.
func (c *Checker) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status: "healthy",
			Uptime: time.Since(c.startTime).String(),
		})
	}
}

// Ready is the readiness handler: 200 when started and not vetoed.
func (c *Checker) Ready() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !c.ready.Load() {
			writeJSON(w, http.StatusServiceUnavailable, response{
				Status:  "not_ready",
				Message: "application is starting",
			})
			return
		}

		if fn := c.veto.Load(); fn != nil {
			if vetoed, reason := (*fn)(); vetoed {
				writeJSON(w, http.StatusServiceUnavailable, response{
					Status:  "degraded",
					Uptime:  time.Since(c.startTime).String(),
					Message: reason,
				})
				return
			}
		}

		writeJSON(w, http.StatusOK, response{
			Status: "ready",
			Uptime: time.Since(c.startTime).String(),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
