package ledger

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"civitas.org/internal/audit"
	"civitas.org/internal/fault"
	"civitas.org/internal/obs"
)

// Service decorates a Ledger with logging, metrics, tracing and audit events.
type Service struct {
	next    Ledger
	log     *slog.Logger
	metrics *obs.Metrics
	tracer  trace.Tracer
}

var _ Ledger = (*Service)(nil)

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithMetrics(m *obs.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func NewService(next Ledger, opts ...Option) *Service {
	s := &Service{next: next, log: obs.Logger(), tracer: obs.Tracer("ledger")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) IssueBallot(ctx context.Context, voterID, electionID int64, locations []string) (Ballot, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.IssueBallot", trace.WithAttributes(
		attribute.Int64("voter.id", voterID),
		attribute.Int64("election.id", electionID),
	))
	b, err := s.next.IssueBallot(ctx, voterID, electionID, locations)
	obs.EndSpan(span, err)
	if err != nil {
		s.log.WarnContext(ctx, "ballot rejected", "voter_id", voterID, "election_id", electionID, "code", fault.CodeOf(err))
		return Ballot{}, err
	}
	s.metrics.BallotEvent("issued")
	s.log.InfoContext(ctx, "ballot issued", "ballot_id", b.ID, "voter_id", voterID, "election_id", electionID)
	_ = audit.LogEvent(ctx, "ballot.issued", map[string]any{"ballot_id": b.ID, "voter_id": voterID, "election_id": electionID})
	return b, nil
}

func (s *Service) GetBallot(ctx context.Context, id int64) (Ballot, error) {
	return s.next.GetBallot(ctx, id)
}

func (s *Service) FinalizeBallot(ctx context.Context, id int64) (Ballot, error) {
	before, err := s.next.GetBallot(ctx, id)
	if err != nil {
		return Ballot{}, err
	}
	b, err := s.next.FinalizeBallot(ctx, id)
	if err != nil {
		return Ballot{}, err
	}
	if before.Status == BallotPending {
		s.metrics.BallotEvent("finalized")
		_ = audit.LogEvent(ctx, "ballot.finalized", map[string]any{"ballot_id": id})
	}
	return b, nil
}

func (s *Service) SpoilBallot(ctx context.Context, id int64, reason string) (Ballot, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.SpoilBallot", trace.WithAttributes(attribute.Int64("ballot.id", id)))
	b, err := s.next.SpoilBallot(ctx, id, reason)
	obs.EndSpan(span, err)
	if err != nil {
		return Ballot{}, err
	}
	s.metrics.BallotEvent("spoiled")
	s.log.InfoContext(ctx, "ballot spoiled", "ballot_id", id, "reason", b.SpoilReason)
	_ = audit.LogEvent(ctx, "ballot.spoiled", map[string]any{"ballot_id": id, "reason": b.SpoilReason})
	return b, nil
}

func (s *Service) CastVote(ctx context.Context, ballotID int64, sel Selection) (Vote, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.CastVote", trace.WithAttributes(
		attribute.Int64("ballot.id", ballotID),
		attribute.String("target.kind", sel.Target.Kind()),
	))
	v, err := s.next.CastVote(ctx, ballotID, sel)
	obs.EndSpan(span, err)
	if err != nil {
		code := fault.CodeOf(err)
		s.metrics.VoteRejected(code)
		s.log.WarnContext(ctx, "vote rejected", "ballot_id", ballotID, "target", sel.Target.Kind(), "code", code, "err", err)
		return Vote{}, err
	}
	s.metrics.VoteCast(sel.Target.Kind())
	s.log.InfoContext(ctx, "vote cast", "vote_id", v.ID, "ballot_id", ballotID, "target", sel.Target.Kind())
	_ = audit.LogEvent(ctx, "vote.cast", map[string]any{
		"vote_id":        v.ID,
		"ballot_id":      ballotID,
		"campaign_id":    v.Target.CampaignID,
		"proposition_id": v.Target.PropositionID,
	})
	return v, nil
}

func (s *Service) ListVotes(ctx context.Context, q VoteQuery) ([]Vote, int64, error) {
	return s.next.ListVotes(ctx, q)
}
