package daemon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type failingPinger struct{}

func (failingPinger) HealthCheck(ctx context.Context) error { return errors.New("persistence down") }

func TestHealthHandlerReportsHealthy(t *testing.T) {
	b := New(&Config{ID: "domaind", Name: "domaind", Version: "test"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	HealthHandler(b)(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestReadinessHandlerReflectsPersistenceFailure(t *testing.T) {
	b := New(&Config{ID: "domaind", Name: "domaind", Version: "test", Persistence: failingPinger{}})

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rr := httptest.NewRecorder()
	ReadinessHandler(b)(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}

func TestInfoHandlerIncludesStats(t *testing.T) {
	b := New(&Config{ID: "domaind", Name: "domaind", Version: "test"}).
		WithStats(func() map[string]any { return map[string]any{"workers": 2} })

	req := httptest.NewRequest(http.MethodGet, "/info", nil)
	rr := httptest.NewRecorder()
	InfoHandler(b)(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}
