// Package httpapi serves the operational endpoints of civitas daemons:
// liveness, readiness, build info, the last tally sweep and Prometheus
// metrics. The domain itself is not exposed over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"civitas.org/internal/audit"
	"civitas.org/internal/obs"
	"civitas.org/internal/tally"
)

// Check is one named readiness dependency.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// ReadyProbe runs every check; the first failure makes the daemon not ready.
type ReadyProbe struct {
	Checks  []Check
	Timeout time.Duration
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rp.Timeout)
		defer cancel()
	}
	for _, c := range rp.Checks {
		if c.Fn == nil {
			continue
		}
		if err := c.Fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", c.Name, err)
		}
	}
	return nil
}

// SweepSummary is the outcome of the most recent tally sweep.
type SweepSummary struct {
	FinishedAt time.Time `json:"finished_at"`
	Elections  int       `json:"elections"`
	Winners    int       `json:"winners"`
	Ties       int       `json:"ties"`
	Empty      int       `json:"empty"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
}

// Summarize folds sweep reports into a SweepSummary.
func Summarize(reports []tally.Report, err error, at time.Time) SweepSummary {
	s := SweepSummary{FinishedAt: at.UTC(), Elections: len(reports)}
	for _, r := range reports {
		s.Winners += len(r.Winners)
		s.Ties += len(r.Ties)
		s.Empty += len(r.Empty)
		s.Failed += r.Failures()
	}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

type API struct {
	router     chi.Router
	readyProbe ReadyProbe
	service    string
	gatherer   prometheus.Gatherer
	metrics    *obs.Metrics
	rateBurst  int
	ratePerSec int
	now        func() time.Time

	mu    sync.RWMutex
	sweep *SweepSummary
}

type Option func(*API)

// WithMetrics serves g on /metrics and measures every request with m.
func WithMetrics(m *obs.Metrics, g prometheus.Gatherer) Option {
	return func(a *API) {
		a.metrics = m
		a.gatherer = g
	}
}

// WithRateLimit limits each client IP to perSecond requests with burst.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		a.rateBurst = burst
		a.ratePerSec = perSecond
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *API) { a.now = now }
}

func New(service string, rp ReadyProbe, opts ...Option) *API {
	a := &API{
		readyProbe: rp,
		service:    service,
		rateBurst:  20,
		ratePerSec: 10,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	r := chi.NewRouter()
	r.Use(RequestID, Logging, SecurityHeaders)
	r.Use(a.metrics.Instrument)
	r.Use(func(next http.Handler) http.Handler { return RateLimit(next, a.rateBurst, a.ratePerSec) })

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Get("/v1/tally/last", a.LastSweep)
	if a.gatherer != nil {
		r.Handle("/metrics", obs.Handler(a.gatherer))
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	a.router = r
	return a
}

func (a *API) Handler() http.Handler { return a.router }

// RecordSweep stores the summary served on /v1/tally/last.
func (a *API) RecordSweep(s SweepSummary) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sweep = &s
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": a.service,
		"version": obs.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.Logger().WarnContext(r.Context(), "readiness check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    a.service,
		"time":    a.now().UTC().Format(time.RFC3339),
		"version": obs.Version,
		"commit":  obs.Commit,
	})
}

func (a *API) LastSweep(w http.ResponseWriter, r *http.Request) {
	a.mu.RLock()
	s := a.sweep
	a.mu.RUnlock()
	if s == nil {
		writeError(w, r, http.StatusNotFound, "no sweep has finished yet")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Serve runs srv until ctx is cancelled, then shuts it down within timeout.
func Serve(ctx context.Context, srv *http.Server, timeout time.Duration) error {
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{"error": msg}
	if rid := audit.RequestID(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}
