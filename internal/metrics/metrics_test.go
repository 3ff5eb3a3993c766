package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.EventWritten("create", "feeding")
	m.IdempotencyOutcome(IdempotencyReplayed)
	m.SummaryCacheLookup(true)
	m.SummaryComputed(time.Millisecond)
	m.HTTPRequest("GET", "/health", 200, time.Millisecond)
	m.RateLimited()
	m.IdempotencySwept(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.EventWritten("create", "feeding")
	m.EventWritten("create", "feeding")
	m.IdempotencyOutcome(IdempotencyConflict)
	m.SummaryCacheLookup(false)
	m.IdempotencySwept(2)

	if got := testutil.ToFloat64(m.eventWrites.WithLabelValues("create", "feeding")); got != 2 {
		t.Errorf("event writes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.idempotency.WithLabelValues(IdempotencyConflict)); got != 1 {
		t.Errorf("conflicts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.summaryCache.WithLabelValues("miss")); got != 1 {
		t.Errorf("misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.idempotencySwept); got != 2 {
		t.Errorf("swept = %v, want 2", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.HTTPRequest("GET", "GET /health", 200, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "babylog_http_requests_total") {
		t.Error("expected babylog_http_requests_total in exposition")
	}
}
