// Package tally derives campaign counts and poll winners from the vote ledger.
//
// Every computation reads only votes on non-spoiled ballots and fully
// replaces whatever an earlier run stored, so runs can be repeated freely.
package tally

import (
	"context"
	"fmt"
	"sort"

	"civitas.org/internal/contest"
	"civitas.org/internal/election"
	"civitas.org/internal/fault"
)

// Winner is the computed outcome of a closed poll.
type Winner struct {
	PollID        int64
	CampaignID    int64
	VotesReceived int64
}

type PropositionTally struct {
	PropositionID int64
	Yes           int64
	No            int64
}

// Result is everything one poll recomputation writes. A nil Winner clears
// any stored winner.
type Result struct {
	PollID  int64
	Tallies map[int64]int64
	Winner  *Winner
}

// Store is the storage the engine reads from and writes results to.
type Store interface {
	GetElection(ctx context.Context, id int64) (election.Election, error)
	ListElections(ctx context.Context, f election.Filter) ([]election.Election, error)
	GetPoll(ctx context.Context, id int64) (contest.Poll, error)
	GetCampaign(ctx context.Context, id int64) (contest.Campaign, error)
	GetProposition(ctx context.Context, id int64) (contest.Proposition, error)
	ListPolls(ctx context.Context, electionID int64) ([]contest.Poll, error)
	ListPropositions(ctx context.Context, electionID int64) ([]contest.Proposition, error)

	CountCampaignVotes(ctx context.Context, campaignID int64) (int64, error)
	// CountPollVotes returns a count for every campaign in the poll,
	// including campaigns with no votes.
	CountPollVotes(ctx context.Context, pollID int64) (map[int64]int64, error)
	CountPropositionVotes(ctx context.Context, propositionID int64) (PropositionTally, error)

	// SaveResult writes campaign counts and replaces the poll's winner in one
	// transaction.
	SaveResult(ctx context.Context, r Result) error
	SavePropositionTally(ctx context.Context, t PropositionTally) error
	GetWinner(ctx context.Context, pollID int64) (Winner, error)
}

// TieError reports that two or more campaigns share the highest count. No
// winner is stored for a tied poll; resolving it is left to the organizer.
type TieError struct {
	PollID      int64
	CampaignIDs []int64
	Votes       int64
}

func (e *TieError) Error() string {
	return fmt.Sprintf("tied_poll: poll %d: campaigns %v share %d votes", e.PollID, e.CampaignIDs, e.Votes)
}

func (e *TieError) Unwrap() error {
	return fault.ErrTiedPoll.At("poll", e.PollID)
}

// SelectWinner picks the campaign with the highest count. A single campaign
// wins even without votes.
func SelectWinner(pollID int64, tallies map[int64]int64) (Winner, error) {
	if len(tallies) == 0 {
		return Winner{}, fault.ErrNoCampaigns.At("poll", pollID)
	}
	var (
		best    int64 = -1
		leaders []int64
	)
	for id, n := range tallies {
		switch {
		case n > best:
			best = n
			leaders = append(leaders[:0], id)
		case n == best:
			leaders = append(leaders, id)
		}
	}
	if len(leaders) > 1 {
		sort.Slice(leaders, func(i, j int) bool { return leaders[i] < leaders[j] })
		return Winner{}, &TieError{PollID: pollID, CampaignIDs: leaders, Votes: best}
	}
	return Winner{PollID: pollID, CampaignID: leaders[0], VotesReceived: best}, nil
}
