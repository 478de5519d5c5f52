package tally

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"civitas.org/internal/audit"
	"civitas.org/internal/election"
	"civitas.org/internal/fault"
	"civitas.org/internal/ids"
	"civitas.org/internal/obs"
)

const (
	defaultConcurrency = 4
	defaultLockTTL     = 30 * time.Second
)

// Engine recomputes tallies. Recomputation of one poll never overlaps with
// itself: concurrent callers in this process share a single run, and the
// Locker excludes other processes.
type Engine struct {
	store       Store
	locker      Locker
	lockTTL     time.Duration
	flight      singleflight.Group
	limiter     *rate.Limiter
	concurrency int
	log         *slog.Logger
	metrics     *obs.Metrics
	tracer      trace.Tracer
	now         func() time.Time
}

type Option func(*Engine)

func WithLocker(l Locker, ttl time.Duration) Option {
	return func(e *Engine) {
		e.locker = l
		if ttl > 0 {
			e.lockTTL = ttl
		}
	}
}

// WithRateLimit paces poll recomputations within a batch. A zero rate
// disables pacing.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(e *Engine) {
		if perSecond <= 0 {
			e.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithMetrics(m *obs.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		locker:      NopLocker{},
		lockTTL:     defaultLockTTL,
		limiter:     rate.NewLimiter(rate.Inf, 0),
		concurrency: defaultConcurrency,
		log:         obs.Logger(),
		tracer:      obs.Tracer("tally"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetTally counts the live votes for a campaign.
func (e *Engine) GetTally(ctx context.Context, campaignID int64) (int64, error) {
	if _, err := e.store.GetCampaign(ctx, campaignID); err != nil {
		return 0, err
	}
	return e.store.CountCampaignVotes(ctx, campaignID)
}

// TallyProposition counts the live yes and no votes for a proposition.
func (e *Engine) TallyProposition(ctx context.Context, propositionID int64) (PropositionTally, error) {
	if _, err := e.store.GetProposition(ctx, propositionID); err != nil {
		return PropositionTally{}, err
	}
	return e.store.CountPropositionVotes(ctx, propositionID)
}

func (e *Engine) GetWinner(ctx context.Context, pollID int64) (Winner, error) {
	return e.store.GetWinner(ctx, pollID)
}

// RecomputeWinners recounts a poll of a closed election, stores every
// campaign's count and replaces the stored winner. A tie stores no winner
// and returns a *TieError.
//
// The shared run is detached from any single caller's cancellation; a
// caller that gives up stops waiting but the run completes for the others.
func (e *Engine) RecomputeWinners(ctx context.Context, pollID int64) (Winner, error) {
	if err := ctx.Err(); err != nil {
		return Winner{}, err
	}
	ch := e.flight.DoChan(strconv.FormatInt(pollID, 10), func() (any, error) {
		return e.recompute(context.WithoutCancel(ctx), pollID)
	})
	select {
	case <-ctx.Done():
		return Winner{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Winner{}, r.Err
		}
		return r.Val.(Winner), nil
	}
}

func (e *Engine) recompute(ctx context.Context, pollID int64) (w Winner, err error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "tally.RecomputeWinners", trace.WithAttributes(attribute.Int64("poll.id", pollID)))
	defer func() {
		obs.EndSpan(span, err)
		e.metrics.TallyRun(outcome(err), time.Since(start))
	}()

	poll, err := e.store.GetPoll(ctx, pollID)
	if err != nil {
		return Winner{}, err
	}
	if err := e.requireClosed(ctx, poll.ElectionID); err != nil {
		return Winner{}, err
	}

	release, err := e.locker.Acquire(ctx, "poll:"+strconv.FormatInt(pollID, 10), e.lockTTL)
	if err != nil {
		return Winner{}, err
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			e.log.WarnContext(ctx, "tally lock release failed", "poll_id", pollID, "err", rerr)
		}
	}()

	tallies, err := e.store.CountPollVotes(ctx, pollID)
	if err != nil {
		return Winner{}, err
	}
	winner, selErr := SelectWinner(pollID, tallies)
	var tie *TieError
	if selErr != nil && !errors.As(selErr, &tie) {
		return Winner{}, selErr
	}

	res := Result{PollID: pollID, Tallies: tallies}
	if selErr == nil {
		res.Winner = &winner
	}
	if err := e.store.SaveResult(ctx, res); err != nil {
		return Winner{}, err
	}

	if tie != nil {
		e.log.WarnContext(ctx, "poll tied", "poll_id", pollID, "campaigns", tie.CampaignIDs, "votes", tie.Votes)
		return Winner{}, tie
	}
	e.log.InfoContext(ctx, "poll winner recomputed", "poll_id", pollID, "campaign_id", winner.CampaignID, "votes", winner.VotesReceived)
	_ = audit.LogEvent(ctx, "tally.recomputed", map[string]any{
		"poll_id":     pollID,
		"campaign_id": winner.CampaignID,
		"votes":       winner.VotesReceived,
	})
	return winner, nil
}

func (e *Engine) requireClosed(ctx context.Context, electionID int64) error {
	el, err := e.store.GetElection(ctx, electionID)
	if err != nil {
		return err
	}
	if st := el.StatusAt(e.now()); st != election.StatusClosed {
		return fault.ErrElectionNotClosed.At("election", electionID).Withf("status is %s", st)
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "winner"
	case errors.Is(err, fault.ErrTiedPoll):
		return "tie"
	case errors.Is(err, fault.ErrNoCampaigns):
		return "empty"
	case errors.Is(err, fault.ErrTallyInProgress):
		return "busy"
	default:
		return "error"
	}
}

// Report summarises one RecomputeElection run.
type Report struct {
	RunID        string
	ElectionID   int64
	StartedAt    time.Time
	FinishedAt   time.Time
	Winners      []Winner
	Ties         []*TieError
	Empty        []int64
	Propositions []PropositionTally

	// Failures keyed by poll id and by proposition id.
	FailedPolls        map[int64]error
	FailedPropositions map[int64]error
}

// Failures counts the polls and propositions that could not be processed.
func (r Report) Failures() int { return len(r.FailedPolls) + len(r.FailedPropositions) }

// OK reports whether every poll and proposition was processed.
func (r Report) OK() bool { return r.Failures() == 0 }

// RecomputeElection recomputes every poll and proposition of a closed
// election. Per-poll failures are collected in the report; only context
// cancellation aborts the batch.
func (e *Engine) RecomputeElection(ctx context.Context, electionID int64) (Report, error) {
	rep := Report{
		RunID:              ids.New(),
		ElectionID:         electionID,
		StartedAt:          e.now(),
		FailedPolls:        map[int64]error{},
		FailedPropositions: map[int64]error{},
	}
	log := e.log.With("run_id", rep.RunID, "election_id", electionID)

	if err := e.requireClosed(ctx, electionID); err != nil {
		return rep, err
	}
	polls, err := e.store.ListPolls(ctx, electionID)
	if err != nil {
		return rep, err
	}
	props, err := e.store.ListPropositions(ctx, electionID)
	if err != nil {
		return rep, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, p := range polls {
		if err := e.limiter.Wait(gctx); err != nil {
			break
		}
		g.Go(func() error {
			w, err := e.RecomputeWinners(gctx, p.ID)
			mu.Lock()
			defer mu.Unlock()
			var tie *TieError
			switch {
			case err == nil:
				rep.Winners = append(rep.Winners, w)
			case errors.As(err, &tie):
				rep.Ties = append(rep.Ties, tie)
			case errors.Is(err, fault.ErrNoCampaigns):
				rep.Empty = append(rep.Empty, p.ID)
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				rep.FailedPolls[p.ID] = err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep, err
	}
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	for _, p := range props {
		if err := e.limiter.Wait(ctx); err != nil {
			return rep, err
		}
		t, err := e.store.CountPropositionVotes(ctx, p.ID)
		if err == nil {
			err = e.store.SavePropositionTally(ctx, t)
		}
		if err != nil {
			rep.FailedPropositions[p.ID] = err
			continue
		}
		rep.Propositions = append(rep.Propositions, t)
	}

	sort.Slice(rep.Winners, func(i, j int) bool { return rep.Winners[i].PollID < rep.Winners[j].PollID })
	sort.Slice(rep.Ties, func(i, j int) bool { return rep.Ties[i].PollID < rep.Ties[j].PollID })
	sort.Slice(rep.Empty, func(i, j int) bool { return rep.Empty[i] < rep.Empty[j] })
	rep.FinishedAt = e.now()
	log.InfoContext(ctx, "election recomputed",
		"winners", len(rep.Winners), "ties", len(rep.Ties), "empty", len(rep.Empty),
		"failed_polls", len(rep.FailedPolls), "failed_propositions", len(rep.FailedPropositions),
		"propositions", len(rep.Propositions))
	return rep, nil
}

// Sweep recomputes every closed election. It stops at the first context
// error and otherwise returns one report per election.
func (e *Engine) Sweep(ctx context.Context) ([]Report, error) {
	elections, err := e.store.ListElections(ctx, election.Filter{Status: election.StatusClosed})
	if err != nil {
		return nil, err
	}
	reports := make([]Report, 0, len(elections))
	for _, el := range elections {
		rep, err := e.RecomputeElection(ctx, el.ID)
		if err != nil {
			if ctx.Err() != nil {
				return reports, ctx.Err()
			}
			e.log.ErrorContext(ctx, "election recompute failed", "election_id", el.ID, "err", err)
			continue
		}
		reports = append(reports, rep)
	}
	return reports, nil
}
