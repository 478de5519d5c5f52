package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the civitas collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	VotesCast      *prometheus.CounterVec
	VoteRejections *prometheus.CounterVec
	Ballots        *prometheus.CounterVec
	TallyRuns      *prometheus.CounterVec
	TallyDuration  prometheus.Histogram
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
	HTTPInFlight   prometheus.Gauge
}

// NewMetrics registers every collector against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		VotesCast: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civitas_votes_cast_total",
			Help: "Votes accepted into the ledger by target kind.",
		}, []string{"target"}),
		VoteRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civitas_vote_rejections_total",
			Help: "Rejected vote casts by fault code.",
		}, []string{"code"}),
		Ballots: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civitas_ballots_total",
			Help: "Ballot lifecycle events.",
		}, []string{"event"}),
		TallyRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civitas_tally_runs_total",
			Help: "Winner recomputations by outcome.",
		}, []string{"outcome"}),
		TallyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "civitas_tally_duration_seconds",
			Help:    "Duration of a single poll recomputation.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		HTTPInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
	}
}

func (m *Metrics) VoteCast(target string) {
	if m != nil {
		m.VotesCast.WithLabelValues(target).Inc()
	}
}

func (m *Metrics) VoteRejected(code string) {
	if m != nil {
		m.VoteRejections.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) BallotEvent(event string) {
	if m != nil {
		m.Ballots.WithLabelValues(event).Inc()
	}
}

// TallyRun records one recomputation and its duration.
func (m *Metrics) TallyRun(outcome string, d time.Duration) {
	if m != nil {
		m.TallyRuns.WithLabelValues(outcome).Inc()
		m.TallyDuration.Observe(d.Seconds())
	}
}

// Handler exposes the collectors registered in g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Instrument measures requests served by a chi router, labelled by route pattern.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.HTTPInFlight.Inc()
		defer m.HTTPInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := strconv.Itoa(sw.code)
		m.HTTPDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.HTTPRequests.WithLabelValues(r.Method, route, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
