package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMetrics_Observe(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewHTTPMetricsWithRegisterer(registry)

	m.Observe("/webhooks/payments", "POST", 200, 15*time.Millisecond)
	m.Observe("/webhooks/payments", "POST", 200, 5*time.Millisecond)
	m.Observe("", "GET", 404, time.Millisecond)

	if got := testutil.ToFloat64(m.requests.WithLabelValues("/webhooks/payments", "POST", "200")); got != 2 {
		t.Fatalf("expected 2 webhook requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("unmatched", "GET", "404")); got != 1 {
		t.Fatalf("expected unmatched route label, got %v", got)
	}
	if count := testutil.CollectAndCount(m.duration); count != 2 {
		t.Fatalf("expected 2 latency series, got %d", count)
	}
}

func TestHTTPMetrics_ReRegisterReturnsExisting(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := NewHTTPMetricsWithRegisterer(registry)
	second := NewHTTPMetricsWithRegisterer(registry)

	if first.requests != second.requests || first.duration != second.duration {
		t.Fatal("re-registration must reuse existing collectors")
	}
}

func TestHTTPMetrics_NilSafe(t *testing.T) {
	var m *HTTPMetrics
	m.Observe("/", "GET", 200, time.Millisecond)
}
