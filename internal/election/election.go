// Package election is the catalog of elections, their voting-method options
// and their key dates.
package election

import (
	"context"
	"strings"
	"time"

	"civitas.org/internal/fault"
	"civitas.org/internal/jurisdiction"
)

type Status string

const (
	StatusUpcoming Status = "upcoming"
	StatusOpen     Status = "open"
	StatusClosed   Status = "closed"
)

// Options are the voting methods offered in an election.
type Options struct {
	EarlyVoting    bool
	VoteByMail     bool
	InPersonVoting bool
	MobileVoting   bool
	OnlineVoting   bool
}

// Spec is the input to OpenElection.
type Spec struct {
	Name               string
	Type               string
	Overview           string
	Scope              jurisdiction.Ref
	OrganizerAccountID int64
	Options            Options
	Deadlines          Deadlines
}

type Election struct {
	ID                 int64
	Name               string
	Type               string
	Overview           string
	Scope              jurisdiction.Ref
	OrganizerAccountID int64
	Options            Options
	Deadlines          Deadlines
	ClosedAt           time.Time
	CreatedAt          time.Time
}

// StatusAt derives the election status at now. Nothing about it is stored
// except an explicit close.
func (e Election) StatusAt(now time.Time) Status {
	if !e.ClosedAt.IsZero() && !now.Before(e.ClosedAt) {
		return StatusClosed
	}
	if end := e.Deadlines.closesAt(); !end.IsZero() && !now.Before(end) {
		return StatusClosed
	}
	if start := e.Deadlines.opensAt(); !start.IsZero() && !now.Before(start) {
		return StatusOpen
	}
	return StatusUpcoming
}

// Filter narrows ListElections. Zero fields match everything.
type Filter struct {
	ScopeID            int64
	OrganizerAccountID int64
	Status             Status
}

// Match reports whether e passes f at now.
func (f Filter) Match(e Election, now time.Time) bool {
	if f.ScopeID != 0 && e.Scope.ID != f.ScopeID {
		return false
	}
	if f.OrganizerAccountID != 0 && e.OrganizerAccountID != f.OrganizerAccountID {
		return false
	}
	if f.Status != "" && e.StatusAt(now) != f.Status {
		return false
	}
	return true
}

// Catalog persists elections together with their options and deadlines.
type Catalog interface {
	// OpenElection stores the election, its options and its deadlines
	// atomically. The organizer, when set, must be an admin or super admin.
	OpenElection(ctx context.Context, spec Spec) (Election, error)
	GetElection(ctx context.Context, id int64) (Election, error)
	ListElections(ctx context.Context, f Filter) ([]Election, error)
	UpdateDeadlines(ctx context.Context, id int64, d Deadlines) (Election, error)
	CloseElection(ctx context.Context, id int64) (Election, error)
	GetStatus(ctx context.Context, id int64) (Status, error)
}

// PrepareSpec normalises spec and validates everything that needs no lookups.
func PrepareSpec(spec Spec) (Spec, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	spec.Type = strings.TrimSpace(spec.Type)
	if spec.Name == "" {
		return Spec{}, fault.ErrInvalidInput.At("election", 0).Withf("name is required")
	}
	if spec.Type == "" {
		return Spec{}, fault.ErrInvalidInput.At("election", 0).Withf("election type is required")
	}
	if spec.OrganizerAccountID < 0 {
		return Spec{}, fault.ErrInvalidInput.At("election", 0).On("organizer_account_id")
	}
	spec.Deadlines = spec.Deadlines.Normalize()
	if err := ValidateDeadlines(spec.Deadlines); err != nil {
		return Spec{}, err
	}
	return spec, nil
}
