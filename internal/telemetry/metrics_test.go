package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentRecordsStatusClass(t *testing.T) {
	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("test_op", "4xx"))

	h := Instrument("test_op", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusConflict)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if got := testutil.ToFloat64(RequestsTotal.WithLabelValues("test_op", "4xx")); got != before+1 {
		t.Fatalf("requests_total{4xx} = %v, want %v", got, before+1)
	}
	if got := testutil.ToFloat64(InFlight.WithLabelValues("test_op")); got != 0 {
		t.Fatalf("in_flight = %v after request, want 0", got)
	}
}

func TestMetricsHandlerExposesGossipSeries(t *testing.T) {
	SetBuildInfo("test", "deadbeef")
	CyclesTotal.Inc()

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, name := range []string{"p2pgossip_gossip_cycles_total", "p2pgossip_build_info", "p2pgossip_uptime_seconds"} {
		if !strings.Contains(body, name) {
			t.Fatalf("metrics output missing %s", name)
		}
	}
}
