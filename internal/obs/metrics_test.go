package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordOnPrivateRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.VoteCast("campaign")
	m.VoteCast("campaign")
	m.VoteRejected("duplicate_vote")
	m.BallotEvent("issued")
	m.TallyRun("winner", 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.VotesCast.WithLabelValues("campaign")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VoteRejections.WithLabelValues("duplicate_vote")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ballots.WithLabelValues("issued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TallyRuns.WithLabelValues("winner")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.VoteCast("campaign")
	m.TallyRun("tie", time.Second)

	h := m.Instrument(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestInstrumentUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/elections/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/elections/42", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/elections/{id}", "202")))
}

func TestBuildInfoRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterBuildInfo(reg))
	require.Error(t, RegisterBuildInfo(reg))

	n, err := testutil.GatherAndCount(reg, "build_info")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "DEBUG",
		"WARN":    "WARN",
		"error":   "ERROR",
		"":        "INFO",
		"verbose": "INFO",
	}
	for input, want := range cases {
		if got := ParseLevel(input).String(); got != want {
			t.Fatalf("ParseLevel(%q)=%s, want %s", input, got, want)
		}
	}
}
