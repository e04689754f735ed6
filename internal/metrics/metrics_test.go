package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestNewMetrics_RegistersOnCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RefreshTotal.WithLabelValues("success").Inc()
	m.Instruments.Set(42)

	if got := testutil.ToFloat64(m.Instruments); got != 42 {
		t.Errorf("instruments = %v", got)
	}
	if got := testutil.ToFloat64(m.RefreshTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("refresh success = %v", got)
	}

	// a second set on a fresh registry must not panic
	NewMetrics(prometheus.NewRegistry())
}

func TestHealthStatus_Status(t *testing.T) {
	h := NewHealthStatus()
	if s, code := h.Status(); s != "unhealthy" || code != http.StatusServiceUnavailable {
		t.Errorf("initial = %s %d", s, code)
	}

	h.CheckStore(context.Background(), fakePinger{})
	if s, _ := h.Status(); s != "degraded" {
		t.Errorf("store ok, cache cold = %s", s)
	}

	h.SetCache(true, 1, 100)
	if s, code := h.Status(); s != "healthy" || code != http.StatusOK {
		t.Errorf("warm = %s %d", s, code)
	}

	h.SetRefresh(time.Now(), errors.New("refresh aborted"))
	if s, code := h.Status(); s != "degraded" || code != http.StatusOK {
		t.Errorf("failed refresh = %s %d", s, code)
	}

	h.CheckStore(context.Background(), fakePinger{err: errors.New("down")})
	if s, _ := h.Status(); s != "degraded" {
		t.Errorf("store down, cache warm = %s", s)
	}
}

func TestHealthStatus_ServeHTTP(t *testing.T) {
	h := NewHealthStatus()
	h.CheckStore(context.Background(), fakePinger{})
	h.SetCache(true, 3, 997)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{`"status":"healthy"`, `"cache_generation":3`, `"instruments":997`} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %s: %s", want, body)
		}
	}
}
