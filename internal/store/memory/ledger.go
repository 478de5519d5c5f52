package memory

import (
	"context"

	"civitas.org/internal/fault"
	"civitas.org/internal/identity"
	"civitas.org/internal/ledger"
)

func cloneBallot(b ledger.Ballot) ledger.Ballot {
	b.PollingLocations = append([]string(nil), b.PollingLocations...)
	return b
}

func (s *Store) IssueBallot(_ context.Context, voterID, electionID int64, locations []string) (ledger.Ballot, error) {
	locations, err := ledger.PrepareLocations(locations)
	if err != nil {
		return ledger.Ballot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[voterID]
	if !ok {
		return ledger.Ballot{}, fault.ErrMissingReference.At("voter", voterID)
	}
	if acc.Kind != identity.RoleVoter {
		return ledger.Ballot{}, fault.ErrRoleConflict.At("account", voterID).Withf("ballots are issued to voters, not %s", acc.Kind)
	}
	e, ok := s.elections[electionID]
	if !ok {
		return ledger.Ballot{}, fault.ErrMissingReference.At("election", electionID)
	}
	now := s.clock()
	if err := ledger.CheckIssuable(e, now); err != nil {
		return ledger.Ballot{}, err
	}
	key := pair{voterID, electionID}
	if existing, ok := s.liveBallot[key]; ok {
		return ledger.Ballot{}, fault.ErrDuplicateBallot.At("ballot", existing).On("ballots_voter_election_live_key")
	}
	b := ledger.Ballot{
		ID:               s.nextID("ballots"),
		VoterID:          voterID,
		ElectionID:       electionID,
		PollingLocations: locations,
		Status:           ledger.BallotPending,
		IssuedAt:         now,
	}
	s.ballots[b.ID] = b
	s.liveBallot[key] = b.ID
	return cloneBallot(b), nil
}

func (s *Store) GetBallot(_ context.Context, id int64) (ledger.Ballot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.ballots[id]
	if !ok {
		return ledger.Ballot{}, fault.ErrNotFound.At("ballot", id)
	}
	return cloneBallot(b), nil
}

func (s *Store) FinalizeBallot(_ context.Context, id int64) (ledger.Ballot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.ballots[id]
	if !ok {
		return ledger.Ballot{}, fault.ErrNotFound.At("ballot", id)
	}
	b, err := ledger.Finalize(b, s.clock())
	if err != nil {
		return ledger.Ballot{}, err
	}
	s.ballots[id] = b
	return cloneBallot(b), nil
}

func (s *Store) SpoilBallot(_ context.Context, id int64, reason string) (ledger.Ballot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.ballots[id]
	if !ok {
		return ledger.Ballot{}, fault.ErrNotFound.At("ballot", id)
	}
	b, err := ledger.Spoil(b, reason, s.clock())
	if err != nil {
		return ledger.Ballot{}, err
	}
	s.ballots[id] = b
	delete(s.liveBallot, pair{b.VoterID, b.ElectionID})
	for k, owner := range s.pollClaims {
		if owner == id {
			delete(s.pollClaims, k)
		}
	}
	for k, owner := range s.propClaims {
		if owner == id {
			delete(s.propClaims, k)
		}
	}
	return cloneBallot(b), nil
}

func (s *Store) CastVote(_ context.Context, ballotID int64, sel ledger.Selection) (ledger.Vote, error) {
	if err := sel.Validate(); err != nil {
		return ledger.Vote{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.ballots[ballotID]
	if !ok {
		return ledger.Vote{}, fault.ErrNotFound.At("ballot", ballotID)
	}
	now := s.clock()
	if err := ledger.CheckCastable(b, s.elections[b.ElectionID], now); err != nil {
		return ledger.Vote{}, err
	}

	var (
		claims   map[pair]int64
		claimKey pair
		pollID   int64
	)
	if sel.Target.IsCampaign() {
		c, ok := s.campaigns[sel.Target.CampaignID]
		if !ok {
			return ledger.Vote{}, fault.ErrMissingReference.At("campaign", sel.Target.CampaignID)
		}
		poll := s.polls[c.PollID]
		if poll.ElectionID != b.ElectionID {
			return ledger.Vote{}, fault.ErrForeignTarget.At("campaign", c.ID).
				Withf("campaign is in election %d, ballot is for %d", poll.ElectionID, b.ElectionID)
		}
		pollID = poll.ID
		claims, claimKey = s.pollClaims, pair{b.VoterID, poll.ID}
	} else {
		p, ok := s.propositions[sel.Target.PropositionID]
		if !ok {
			return ledger.Vote{}, fault.ErrMissingReference.At("proposition", sel.Target.PropositionID)
		}
		if p.ElectionID != b.ElectionID {
			return ledger.Vote{}, fault.ErrForeignTarget.At("proposition", p.ID).
				Withf("proposition is in election %d, ballot is for %d", p.ElectionID, b.ElectionID)
		}
		claims, claimKey = s.propClaims, pair{b.VoterID, p.ID}
	}
	if _, taken := claims[claimKey]; taken {
		if pollID != 0 {
			return ledger.Vote{}, fault.ErrDuplicateVote.At("poll", pollID).On("vote_claims_voter_poll_key")
		}
		return ledger.Vote{}, fault.ErrDuplicateVote.At("proposition", sel.Target.PropositionID).On("vote_claims_voter_proposition_key")
	}

	v := ledger.Vote{
		ID:       s.nextID("votes"),
		BallotID: b.ID,
		VoterID:  b.VoterID,
		PollID:   pollID,
		Target:   sel.Target,
		Choice:   sel.Choice,
		CastAt:   now,
	}
	s.votes = append(s.votes, v)
	claims[claimKey] = b.ID
	if sel.Target.IsCampaign() {
		s.campaignVotes[sel.Target.CampaignID]++
	}
	if b.Status == ledger.BallotPending {
		b.Status = ledger.BallotCast
		b.CastAt = now
		s.ballots[b.ID] = b
	}
	return v, nil
}

func (s *Store) ListVotes(_ context.Context, q ledger.VoteQuery) ([]ledger.Vote, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := q.PageLimit()
	out := []ledger.Vote{}
	for _, v := range s.votes {
		if v.ID <= q.AfterID {
			continue
		}
		if q.BallotID != 0 && v.BallotID != q.BallotID {
			continue
		}
		if q.ElectionID != 0 && s.ballots[v.BallotID].ElectionID != q.ElectionID {
			continue
		}
		if len(out) == limit {
			return out, out[len(out)-1].ID, nil
		}
		out = append(out, v)
	}
	return out, 0, nil
}

// live reports whether v counts towards tallies. Must be called with the lock held.
func (s *Store) live(v ledger.Vote) bool {
	return s.ballots[v.BallotID].Status != ledger.BallotSpoiled
}
