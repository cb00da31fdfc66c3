package healthprobe

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHealthAlwaysOK(t *testing.T) {
	c := New()

	rec := httptest.NewRecorder()
	c.Health()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestReadyLifecycle(t *testing.T) {
	c := New()

	rec := httptest.NewRecorder()
	c.Ready()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("before SetReady: status = %d, want 503", rec.Code)
	}

	c.SetReady(true)
	rec = httptest.NewRecorder()
	c.Ready()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("after SetReady: status = %d, want 200", rec.Code)
	}

	c.SetReady(false)
	rec = httptest.NewRecorder()
	c.Ready()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("after un-ready: status = %d, want 503", rec.Code)
	}
}

func TestReadyVeto(t *testing.T) {
	c := New()
	c.SetReady(true)
	c.SetVeto(func() (bool, string) { return true, "kill switch engaged" })

	rec := httptest.NewRecorder()
	c.Ready()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("vetoed status = %d, want 503", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "kill switch engaged") {
		t.Errorf("body %q missing veto reason", body)
	}
}
