package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"probe-meter/meter/probe"
	"probe-meter/meter/reporter"
	"probe-meter/meter/sink"
	"probe-meter/meter/status"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeStates struct {
	states map[string]status.EndpointStatus
	stats  map[string]probe.StatsSnapshot
}

func (f fakeStates) States() map[string]status.EndpointStatus { return f.states }
func (f fakeStates) Stats() map[string]probe.StatsSnapshot    { return f.stats }

func newTestRouter(t *testing.T, states fakeStates) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	prom := sink.NewPrometheus(reg)
	latest := sink.NewLatest()
	s := reporter.Snapshot{Stream: "capture", Count: 3, HasData: true, AvgLatencyMs: 15, Unit: reporter.Mbps}
	if err := (sink.Multi{prom, latest}).Emit(s); err != nil {
		t.Fatal(err)
	}
	return NewRouter("run-1", latest, states, reg)
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestStatus(t *testing.T) {
	h := newTestRouter(t, fakeStates{
		states: map[string]status.EndpointStatus{"playback": status.EndpointAwaiting, "capture": status.EndpointStreaming},
		stats:  map[string]probe.StatsSnapshot{"capture": {Units: 3}},
	})
	rec := do(t, h, http.MethodGet, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("code=%d", rec.Code)
	}
	var v StatusView
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if v.RunID != "run-1" || len(v.Endpoints) != 2 || v.Endpoints[0].Name != "capture" {
		t.Fatalf("view=%+v", v)
	}
	if v.Endpoints[0].State != status.EndpointStreaming || v.Endpoints[0].Stats.Units != 3 {
		t.Fatalf("capture=%+v", v.Endpoints[0])
	}
	if len(v.Snapshots) != 1 || v.Snapshots[0].AvgLatencyMs != 15 {
		t.Fatalf("snapshots=%+v", v.Snapshots)
	}
}

func TestHealthz(t *testing.T) {
	open := newTestRouter(t, fakeStates{states: map[string]status.EndpointStatus{"a": status.EndpointClosed, "b": status.EndpointStreaming}})
	if rec := do(t, open, http.MethodGet, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("code=%d", rec.Code)
	}
	closed := newTestRouter(t, fakeStates{states: map[string]status.EndpointStatus{"a": status.EndpointClosed}})
	if rec := do(t, closed, http.MethodGet, "/healthz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code=%d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	h := newTestRouter(t, fakeStates{})
	rec := do(t, h, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("code=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `probe_latency_avg_ms{stream="capture"} 15`) {
		t.Fatalf("body=%s", rec.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestRouter(t, fakeStates{})
	if rec := do(t, h, http.MethodPost, "/status"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("code=%d", rec.Code)
	}
}
