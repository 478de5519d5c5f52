package memory

import (
	"context"
	"sort"

	"civitas.org/internal/election"
	"civitas.org/internal/fault"
)

func (s *Store) OpenElection(_ context.Context, spec election.Spec) (election.Election, error) {
	spec, err := election.PrepareSpec(spec)
	if err != nil {
		return election.Election{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !spec.Scope.IsZero() {
		n, err := s.node(spec.Scope)
		if err != nil {
			return election.Election{}, fault.ErrMissingReference.At("jurisdiction", spec.Scope.ID)
		}
		spec.Scope = n.Ref()
	}
	if spec.OrganizerAccountID != 0 {
		acc, ok := s.accounts[spec.OrganizerAccountID]
		if !ok {
			return election.Election{}, fault.ErrMissingReference.At("account", spec.OrganizerAccountID)
		}
		if !acc.Kind.CanOrganize() {
			return election.Election{}, fault.ErrRoleConflict.At("account", acc.ID).
				Withf("organizer must be an admin or super_admin, not %s", acc.Kind)
		}
	}
	e := election.Election{
		ID:                 s.nextID("elections"),
		Name:               spec.Name,
		Type:               spec.Type,
		Overview:           spec.Overview,
		Scope:              spec.Scope,
		OrganizerAccountID: spec.OrganizerAccountID,
		Options:            spec.Options,
		Deadlines:          spec.Deadlines,
		CreatedAt:          s.clock(),
	}
	s.elections[e.ID] = e
	return e, nil
}

func (s *Store) GetElection(_ context.Context, id int64) (election.Election, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.elections[id]
	if !ok {
		return election.Election{}, fault.ErrNotFound.At("election", id)
	}
	return e, nil
}

func (s *Store) ListElections(_ context.Context, f election.Filter) ([]election.Election, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.clock()
	out := []election.Election{}
	for _, e := range s.elections {
		if f.Match(e, now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateDeadlines(_ context.Context, id int64, d election.Deadlines) (election.Election, error) {
	d = d.Normalize()
	if err := election.ValidateDeadlines(d); err != nil {
		return election.Election{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.elections[id]
	if !ok {
		return election.Election{}, fault.ErrNotFound.At("election", id)
	}
	if e.StatusAt(s.clock()) == election.StatusClosed {
		return election.Election{}, fault.ErrElectionClosed.At("election", id)
	}
	e.Deadlines = d
	s.elections[id] = e
	return e, nil
}

func (s *Store) CloseElection(_ context.Context, id int64) (election.Election, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.elections[id]
	if !ok {
		return election.Election{}, fault.ErrNotFound.At("election", id)
	}
	if !e.ClosedAt.IsZero() {
		return election.Election{}, fault.ErrElectionClosed.At("election", id)
	}
	e.ClosedAt = s.clock()
	s.elections[id] = e
	return e, nil
}

func (s *Store) GetStatus(_ context.Context, id int64) (election.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.elections[id]
	if !ok {
		return "", fault.ErrNotFound.At("election", id)
	}
	return e.StatusAt(s.clock()), nil
}

// openForChanges must be called with the lock held.
func (s *Store) openForChanges(electionID int64) error {
	e, ok := s.elections[electionID]
	if !ok {
		return fault.ErrMissingReference.At("election", electionID)
	}
	if e.StatusAt(s.clock()) == election.StatusClosed {
		return fault.ErrElectionClosed.At("election", electionID)
	}
	return nil
}
