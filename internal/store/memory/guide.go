package memory

import (
	"context"
	"sort"

	"civitas.org/internal/contest"
	"civitas.org/internal/fault"
	"civitas.org/internal/guide"
)

// targetElection must be called with the lock held.
func (s *Store) targetElection(t contest.Target) (int64, error) {
	if t.IsCampaign() {
		c, ok := s.campaigns[t.CampaignID]
		if !ok {
			return 0, fault.ErrMissingReference.At("campaign", t.CampaignID)
		}
		return s.polls[c.PollID].ElectionID, nil
	}
	p, ok := s.propositions[t.PropositionID]
	if !ok {
		return 0, fault.ErrMissingReference.At("proposition", t.PropositionID)
	}
	return p.ElectionID, nil
}

func (s *Store) CreateGuide(_ context.Context, enterpriseID, electionID int64) (guide.Guide, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.enterprises[enterpriseID]; !ok {
		return guide.Guide{}, fault.ErrMissingReference.At("enterprise", enterpriseID)
	}
	if _, ok := s.elections[electionID]; !ok {
		return guide.Guide{}, fault.ErrMissingReference.At("election", electionID)
	}
	key := pair{enterpriseID, electionID}
	if _, ok := s.guideIndex[key]; ok {
		return guide.Guide{}, fault.ErrDuplicateName.At("guide", 0).On("guides_enterprise_election_key")
	}
	g := guide.Guide{
		ID:           s.nextID("guides"),
		EnterpriseID: enterpriseID,
		ElectionID:   electionID,
		CreatedAt:    s.clock(),
	}
	s.guides[g.ID] = g
	s.guideIndex[key] = g.ID
	return g, nil
}

func (s *Store) AddRecommendation(_ context.Context, guideID int64, target contest.Target, stance contest.Choice) (guide.Recommendation, error) {
	if err := guide.ValidateRecommendation(target, stance); err != nil {
		return guide.Recommendation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.guides[guideID]
	if !ok {
		return guide.Recommendation{}, fault.ErrMissingReference.At("guide", guideID)
	}
	electionID, err := s.targetElection(target)
	if err != nil {
		return guide.Recommendation{}, err
	}
	if electionID != g.ElectionID {
		return guide.Recommendation{}, fault.ErrForeignTarget.At("guide", guideID).
			Withf("%s is in election %d, guide covers %d", target.Kind(), electionID, g.ElectionID)
	}
	key := recKey{guideID: guideID, target: target}
	if id, ok := s.recIndex[key]; ok {
		r := s.recommendations[id]
		r.Stance = stance
		s.recommendations[id] = r
		return r, nil
	}
	r := guide.Recommendation{
		ID:        s.nextID("recommendations"),
		GuideID:   guideID,
		Target:    target,
		Stance:    stance,
		CreatedAt: s.clock(),
	}
	s.recommendations[r.ID] = r
	s.recIndex[key] = r.ID
	return r, nil
}

func (s *Store) ListGuides(_ context.Context, electionID int64) ([]guide.Guide, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []guide.Guide{}
	for _, g := range s.guides {
		if g.ElectionID == electionID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListRecommendations(_ context.Context, guideID int64) ([]guide.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []guide.Recommendation{}
	for _, r := range s.recommendations {
		if r.GuideID == guideID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Endorse(_ context.Context, enterpriseID int64, target contest.Target) (guide.Endorsement, error) {
	if err := target.Validate(); err != nil {
		return guide.Endorsement{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.enterprises[enterpriseID]; !ok {
		return guide.Endorsement{}, fault.ErrMissingReference.At("enterprise", enterpriseID)
	}
	electionID, err := s.targetElection(target)
	if err != nil {
		return guide.Endorsement{}, err
	}
	key := endorseKey{enterpriseID: enterpriseID, target: target}
	if id, ok := s.endorseIndex[key]; ok {
		return s.endorsements[id], nil
	}
	e := guide.Endorsement{
		ID:           s.nextID("endorsements"),
		EnterpriseID: enterpriseID,
		ElectionID:   electionID,
		Target:       target,
		CreatedAt:    s.clock(),
	}
	s.endorsements[e.ID] = e
	s.endorseIndex[key] = e.ID
	return e, nil
}

func (s *Store) ListEndorsements(_ context.Context, enterpriseID int64) ([]guide.Endorsement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []guide.Endorsement{}
	for _, e := range s.endorsements {
		if e.EnterpriseID == enterpriseID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
