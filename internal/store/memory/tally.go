package memory

import (
	"context"

	"civitas.org/internal/contest"
	"civitas.org/internal/fault"
	"civitas.org/internal/tally"
)

func (s *Store) CountCampaignVotes(_ context.Context, campaignID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, v := range s.votes {
		if v.Target.CampaignID == campaignID && s.live(v) {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountPollVotes(_ context.Context, pollID int64) (map[int64]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.polls[pollID]; !ok {
		return nil, fault.ErrNotFound.At("poll", pollID)
	}
	out := map[int64]int64{}
	for _, c := range s.campaigns {
		if c.PollID == pollID {
			out[c.ID] = 0
		}
	}
	for _, v := range s.votes {
		if v.PollID != pollID || !s.live(v) {
			continue
		}
		out[v.Target.CampaignID]++
	}
	return out, nil
}

func (s *Store) CountPropositionVotes(_ context.Context, propositionID int64) (tally.PropositionTally, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := tally.PropositionTally{PropositionID: propositionID}
	for _, v := range s.votes {
		if v.Target.PropositionID != propositionID || !s.live(v) {
			continue
		}
		switch v.Choice {
		case contest.ChoiceYes:
			t.Yes++
		case contest.ChoiceNo:
			t.No++
		}
	}
	return t, nil
}

func (s *Store) SaveResult(_ context.Context, r tally.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.polls[r.PollID]; !ok {
		return fault.ErrNotFound.At("poll", r.PollID)
	}
	for id := range r.Tallies {
		c, ok := s.campaigns[id]
		if !ok || c.PollID != r.PollID {
			return fault.ErrForeignTarget.At("campaign", id).Withf("not in poll %d", r.PollID)
		}
	}
	if r.Winner != nil {
		if c, ok := s.campaigns[r.Winner.CampaignID]; !ok || c.PollID != r.PollID {
			return fault.ErrForeignTarget.At("campaign", r.Winner.CampaignID).Withf("winner not in poll %d", r.PollID)
		}
	}
	for id, n := range r.Tallies {
		c := s.campaigns[id]
		c.Votes = n
		s.campaigns[id] = c
	}
	if r.Winner == nil {
		delete(s.winners, r.PollID)
		return nil
	}
	s.winners[r.PollID] = *r.Winner
	return nil
}

func (s *Store) SavePropositionTally(_ context.Context, t tally.PropositionTally) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.propositions[t.PropositionID]
	if !ok {
		return fault.ErrNotFound.At("proposition", t.PropositionID)
	}
	p.YesVotes, p.NoVotes = t.Yes, t.No
	s.propositions[p.ID] = p
	return nil
}

func (s *Store) GetWinner(_ context.Context, pollID int64) (tally.Winner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.winners[pollID]
	if !ok {
		return tally.Winner{}, fault.ErrNotFound.At("winner", pollID)
	}
	return w, nil
}
