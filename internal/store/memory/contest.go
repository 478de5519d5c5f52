package memory

import (
	"context"
	"sort"

	"civitas.org/internal/contest"
	"civitas.org/internal/fault"
)

func (s *Store) CreateParty(_ context.Context, p contest.Party) (contest.Party, error) {
	p, err := contest.PrepareParty(p)
	if err != nil {
		return contest.Party{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.nextID("parties")
	s.parties[p.ID] = p
	return p, nil
}

// partyRef must be called with the lock held.
func (s *Store) partyRef(id int64) error {
	if id == 0 {
		return nil
	}
	if _, ok := s.parties[id]; !ok {
		return fault.ErrMissingReference.At("party", id)
	}
	return nil
}

func (s *Store) CreateCandidate(_ context.Context, c contest.Candidate) (contest.Candidate, error) {
	c, err := contest.PrepareCandidate(c)
	if err != nil {
		return contest.Candidate{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.partyRef(c.PartyID); err != nil {
		return contest.Candidate{}, err
	}
	c.ID = s.nextID("candidates")
	s.candidates[c.ID] = c
	return c, nil
}

func (s *Store) CreateRepresentative(_ context.Context, r contest.Representative) (contest.Representative, error) {
	r, err := contest.PrepareRepresentative(r)
	if err != nil {
		return contest.Representative{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.partyRef(r.PartyID); err != nil {
		return contest.Representative{}, err
	}
	r.ID = s.nextID("representatives")
	s.representatives[r.ID] = r
	return r, nil
}

func (s *Store) CreateTerm(_ context.Context, t contest.Term) (contest.Term, error) {
	t, err := contest.PrepareTerm(t)
	if err != nil {
		return contest.Term{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.representatives[t.RepresentativeID]; !ok {
		return contest.Term{}, fault.ErrMissingReference.At("representative", t.RepresentativeID)
	}
	t.ID = s.nextID("terms")
	s.terms[t.ID] = t
	return t, nil
}

func (s *Store) CreateBill(_ context.Context, b contest.Bill) (contest.Bill, error) {
	b, err := contest.PrepareBill(b)
	if err != nil {
		return contest.Bill{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b.ID = s.nextID("bills")
	s.bills[b.ID] = b
	return b, nil
}

func (s *Store) AddPoll(_ context.Context, electionID int64, spec contest.PollSpec) (contest.Poll, error) {
	spec, err := contest.PreparePoll(spec)
	if err != nil {
		return contest.Poll{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.openForChanges(electionID); err != nil {
		return contest.Poll{}, err
	}
	if spec.TermID != 0 {
		if _, ok := s.terms[spec.TermID]; !ok {
			return contest.Poll{}, fault.ErrMissingReference.At("term", spec.TermID)
		}
	}
	p := contest.Poll{
		ID:           s.nextID("polls"),
		ElectionID:   electionID,
		Position:     spec.Position,
		PositionType: spec.PositionType,
		TermID:       spec.TermID,
	}
	s.polls[p.ID] = p
	return p, nil
}

func (s *Store) AddCampaign(_ context.Context, pollID int64, runner contest.Runner, statement string) (contest.Campaign, error) {
	if err := runner.Validate(); err != nil {
		return contest.Campaign{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	poll, ok := s.polls[pollID]
	if !ok {
		return contest.Campaign{}, fault.ErrMissingReference.At("poll", pollID)
	}
	if err := s.openForChanges(poll.ElectionID); err != nil {
		return contest.Campaign{}, err
	}
	switch runner.Kind {
	case contest.RunnerCandidate:
		if _, ok := s.candidates[runner.ID]; !ok {
			return contest.Campaign{}, fault.ErrMissingReference.At("candidate", runner.ID)
		}
	case contest.RunnerRepresentative:
		if _, ok := s.representatives[runner.ID]; !ok {
			return contest.Campaign{}, fault.ErrMissingReference.At("representative", runner.ID)
		}
	}
	key := runnerKey{pollID: pollID, runner: runner}
	if _, ok := s.campaignRunner[key]; ok {
		return contest.Campaign{}, fault.ErrDuplicateCampaign.At("poll", pollID).
			On("campaigns_poll_runner_key").Withf("%s %d already runs", runner.Kind, runner.ID)
	}
	c := contest.Campaign{
		ID:        s.nextID("campaigns"),
		PollID:    pollID,
		Runner:    runner,
		Statement: statement,
	}
	s.campaigns[c.ID] = c
	s.campaignRunner[key] = c.ID
	return c, nil
}

func (s *Store) AddProposition(_ context.Context, electionID, billID int64) (contest.Proposition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.openForChanges(electionID); err != nil {
		return contest.Proposition{}, err
	}
	if _, ok := s.bills[billID]; !ok {
		return contest.Proposition{}, fault.ErrMissingReference.At("bill", billID)
	}
	key := pair{electionID, billID}
	if _, ok := s.propositionBill[key]; ok {
		return contest.Proposition{}, fault.ErrDuplicateProposition.At("election", electionID).
			On("propositions_election_bill_key")
	}
	p := contest.Proposition{ID: s.nextID("propositions"), ElectionID: electionID, BillID: billID}
	s.propositions[p.ID] = p
	s.propositionBill[key] = p.ID
	return p, nil
}

func (s *Store) UpdateCampaignStatement(_ context.Context, campaignID int64, statement string) (contest.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[campaignID]
	if !ok {
		return contest.Campaign{}, fault.ErrNotFound.At("campaign", campaignID)
	}
	if s.campaignVotes[campaignID] > 0 {
		return contest.Campaign{}, fault.ErrContestLocked.At("campaign", campaignID)
	}
	if err := s.openForChanges(s.polls[c.PollID].ElectionID); err != nil {
		return contest.Campaign{}, err
	}
	c.Statement = statement
	s.campaigns[campaignID] = c
	return c, nil
}

func (s *Store) GetPoll(_ context.Context, id int64) (contest.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.polls[id]
	if !ok {
		return contest.Poll{}, fault.ErrNotFound.At("poll", id)
	}
	return p, nil
}

func (s *Store) GetCampaign(_ context.Context, id int64) (contest.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	if !ok {
		return contest.Campaign{}, fault.ErrNotFound.At("campaign", id)
	}
	return c, nil
}

func (s *Store) GetProposition(_ context.Context, id int64) (contest.Proposition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.propositions[id]
	if !ok {
		return contest.Proposition{}, fault.ErrNotFound.At("proposition", id)
	}
	return p, nil
}

func (s *Store) ListPolls(_ context.Context, electionID int64) ([]contest.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []contest.Poll{}
	for _, p := range s.polls {
		if p.ElectionID == electionID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListCampaigns(_ context.Context, pollID int64) ([]contest.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []contest.Campaign{}
	for _, c := range s.campaigns {
		if c.PollID == pollID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListPropositions(_ context.Context, electionID int64) ([]contest.Proposition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []contest.Proposition{}
	for _, p := range s.propositions {
		if p.ElectionID == electionID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
