package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"civitas.org/internal/obs"
	"civitas.org/internal/tally"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestHealthzAndInfo(t *testing.T) {
	now := time.Date(2026, 11, 4, 12, 0, 0, 0, time.UTC)
	api := New("tallyd", ReadyProbe{}, WithClock(func() time.Time { return now }))

	rr := get(t, api.Handler(), "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rr.Code)
	}
	if body := decode(t, rr); body["service"] != "tallyd" {
		t.Fatalf("unexpected healthz body: %v", body)
	}
	if rr.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected %s header", requestIDHeader)
	}

	info := decode(t, get(t, api.Handler(), "/v1/info"))
	if info["time"] != "2026-11-04T12:00:00Z" {
		t.Fatalf("unexpected info time: %v", info["time"])
	}
}

func TestReadyReportsFailingCheck(t *testing.T) {
	probe := ReadyProbe{Checks: []Check{
		{Name: "postgres", Fn: func(context.Context) error { return nil }},
		{Name: "redis", Fn: func(context.Context) error { return errors.New("connection refused") }},
	}}
	api := New("tallyd", probe)

	rr := get(t, api.Handler(), "/readyz")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	body := decode(t, rr)
	if !strings.HasPrefix(body["error"].(string), "redis:") {
		t.Fatalf("expected failing check to be named, got %v", body["error"])
	}

	ok := New("tallyd", ReadyProbe{Checks: probe.Checks[:1]})
	if rr := get(t, ok.Handler(), "/readyz"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestLastSweep(t *testing.T) {
	api := New("tallyd", ReadyProbe{})
	if rr := get(t, api.Handler(), "/v1/tally/last"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before the first sweep, got %d", rr.Code)
	}

	reports := []tally.Report{
		{ElectionID: 1, Winners: []tally.Winner{{PollID: 1}, {PollID: 2}}, Ties: []*tally.TieError{{PollID: 3}}},
		{ElectionID: 2, Empty: []int64{4}, FailedPolls: map[int64]error{5: errors.New("boom")}},
	}
	api.RecordSweep(Summarize(reports, nil, time.Date(2026, 11, 4, 0, 0, 0, 0, time.UTC)))

	rr := get(t, api.Handler(), "/v1/tally/last")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got SweepSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	want := SweepSummary{FinishedAt: got.FinishedAt, Elections: 2, Winners: 2, Ties: 1, Empty: 1, Failed: 1}
	if got != want {
		t.Fatalf("unexpected summary: %+v", got)
	}
}

func TestMetricsEndpointAndRouteLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := obs.NewMetrics(reg)
	api := New("tallyd", ReadyProbe{}, WithMetrics(m, reg))

	get(t, api.Handler(), "/healthz")
	rr := get(t, api.Handler(), "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `route="/healthz"`) {
		t.Fatalf("expected healthz request to be recorded by route")
	}
}

func TestUnknownRouteCarriesRequestID(t *testing.T) {
	api := New("tallyd", ReadyProbe{})
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if body := decode(t, rr); body["request_id"] != "req-42" {
		t.Fatalf("expected request id echoed, got %v", body)
	}
}
