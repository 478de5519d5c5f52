// Package ledger records ballots and the append-only votes cast on them.
package ledger

import (
	"context"
	"strings"
	"time"

	"civitas.org/internal/contest"
	"civitas.org/internal/election"
	"civitas.org/internal/fault"
)

// MaxPollingLocations is the number of polling places a ballot may list.
const MaxPollingLocations = 3

type BallotStatus string

const (
	BallotPending BallotStatus = "pending"
	BallotCast    BallotStatus = "cast"
	BallotSpoiled BallotStatus = "spoiled"
)

// Ballot admits one voter to one election and collects that voter's votes.
type Ballot struct {
	ID               int64
	VoterID          int64
	ElectionID       int64
	PollingLocations []string
	Status           BallotStatus
	SpoilReason      string
	IssuedAt         time.Time
	CastAt           time.Time
	SpoiledAt        time.Time
}

// Selection is what a voter marks: one target and, for propositions, a choice.
type Selection struct {
	Target contest.Target
	Choice contest.Choice
}

func (s Selection) Validate() error {
	if err := s.Target.Validate(); err != nil {
		return err
	}
	return contest.ValidateChoice(s.Target, s.Choice)
}

// Vote is immutable once written. VoterID is copied from the ballot.
type Vote struct {
	ID       int64
	BallotID int64
	VoterID  int64
	PollID   int64
	Target   contest.Target
	Choice   contest.Choice
	CastAt   time.Time
}

// VoteQuery pages through votes in id order. Zero filters match everything.
type VoteQuery struct {
	BallotID   int64
	ElectionID int64
	AfterID    int64
	Limit      int
}

const (
	defaultVoteLimit = 100
	maxVoteLimit     = 1000
)

// PageLimit clamps q.Limit into the accepted range.
func (q VoteQuery) PageLimit() int {
	switch {
	case q.Limit <= 0:
		return defaultVoteLimit
	case q.Limit > maxVoteLimit:
		return maxVoteLimit
	}
	return q.Limit
}

// Ledger is the write path for ballots and votes.
type Ledger interface {
	// IssueBallot fails with ErrDuplicateBallot while the voter holds a
	// non-spoiled ballot for the election.
	IssueBallot(ctx context.Context, voterID, electionID int64, locations []string) (Ballot, error)
	GetBallot(ctx context.Context, id int64) (Ballot, error)
	FinalizeBallot(ctx context.Context, id int64) (Ballot, error)
	SpoilBallot(ctx context.Context, id int64, reason string) (Ballot, error)
	CastVote(ctx context.Context, ballotID int64, sel Selection) (Vote, error)
	// ListVotes returns a page of votes and the cursor for the next page,
	// which is zero when there are no more.
	ListVotes(ctx context.Context, q VoteQuery) ([]Vote, int64, error)
}

// PrepareLocations trims, drops blanks and enforces the location limit.
func PrepareLocations(locations []string) ([]string, error) {
	out := make([]string, 0, len(locations))
	for _, l := range locations {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	if len(out) > MaxPollingLocations {
		return nil, fault.ErrInvalidInput.At("ballot", 0).Withf("at most %d polling locations", MaxPollingLocations)
	}
	return out, nil
}

// CheckIssuable rejects ballots for elections that have already closed.
func CheckIssuable(e election.Election, now time.Time) error {
	if e.StatusAt(now) == election.StatusClosed {
		return fault.ErrElectionClosed.At("election", e.ID)
	}
	return nil
}

// CheckCastable reports why b cannot accept a vote in e at now, if it cannot.
func CheckCastable(b Ballot, e election.Election, now time.Time) error {
	if b.Status == BallotSpoiled {
		return fault.ErrBallotSpoiled.At("ballot", b.ID)
	}
	if st := e.StatusAt(now); st != election.StatusOpen {
		return fault.ErrBallotNotCast.At("ballot", b.ID).Withf("election %d is %s", e.ID, st)
	}
	return nil
}

// Finalize moves a pending ballot to cast. Cast ballots are returned as-is.
func Finalize(b Ballot, now time.Time) (Ballot, error) {
	switch b.Status {
	case BallotSpoiled:
		return b, fault.ErrBallotSpoiled.At("ballot", b.ID)
	case BallotPending:
		b.Status = BallotCast
		b.CastAt = now
	}
	return b, nil
}

// Spoil moves a pending or cast ballot to spoiled. Spoiling is terminal.
func Spoil(b Ballot, reason string, now time.Time) (Ballot, error) {
	if b.Status == BallotSpoiled {
		return b, fault.ErrBallotSpoiled.At("ballot", b.ID)
	}
	b.Status = BallotSpoiled
	b.SpoilReason = strings.TrimSpace(reason)
	b.SpoiledAt = now
	return b, nil
}
