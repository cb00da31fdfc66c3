package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/crossvenue/kalshi-poly-arb/internal/storage"
	"github.com/crossvenue/kalshi-poly-arb/pkg/healthprobe"
	"go.uber.org/zap"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	hc := healthprobe.New()
	hc.SetReady(true)

	return New(&Config{
		Port:           "0",
		Logger:         zap.NewNop(),
		HealthChecker:  hc,
		Store:          storage.NewConsole(zap.NewNop()),
		SimulationMode: true,
	})
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRoutes(t *testing.T) {
	s := testServer(t)

	for _, path := range []string{
		"/health", "/ready", "/metrics",
		"/api/status", "/api/markets", "/api/opportunities", "/api/trades", "/api/stats",
	} {
		rec := get(t, s, path)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestStatusReportsSimulationMode(t *testing.T) {
	s := testServer(t)

	rec := get(t, s, "/api/status")

	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.SimulationMode {
		t.Error("simulation_mode = false, want true")
	}
}

func TestListLimit(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", defaultListLimit},
		{"?limit=25", 25},
		{"?limit=-1", defaultListLimit},
		{"?limit=abc", defaultListLimit},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/trades"+tt.query, nil)
		if got := listLimit(r); got != tt.want {
			t.Errorf("listLimit(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}
