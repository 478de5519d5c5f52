// Package fault is the error taxonomy shared by every civitas component.
//
// Each failure belongs to one Kind and carries a stable Code. Sentinels in
// this package are compared by Code, so an error enriched with entity context
// via At or Wrap still matches the sentinel with errors.Is.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure by how the caller is expected to react.
type Kind string

const (
	KindUnknown     Kind = ""
	KindValidation  Kind = "validation"
	KindConflict    Kind = "conflict"
	KindReferential Kind = "referential"
	KindState       Kind = "state"
	KindNotFound    Kind = "not_found"
)

// Error is a classified domain failure.
type Error struct {
	Kind       Kind
	Code       string
	Entity     string
	ID         int64
	Constraint string
	Detail     string
	Underlying error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Entity != "" {
		b.WriteString(": ")
		b.WriteString(e.Entity)
		if e.ID != 0 {
			fmt.Fprintf(&b, " %d", e.ID)
		}
	}
	if e.Constraint != "" {
		fmt.Fprintf(&b, " (%s)", e.Constraint)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Underlying != nil {
		fmt.Fprintf(&b, ": %v", e.Underlying)
	}
	return b.String()
}

// Is reports whether target is a fault with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *Error) Unwrap() error { return e.Underlying }

// At returns a copy of e bound to a concrete entity.
func (e *Error) At(entity string, id int64) *Error {
	out := *e
	out.Entity = entity
	out.ID = id
	return &out
}

// On returns a copy of e naming the violated constraint.
func (e *Error) On(constraint string) *Error {
	out := *e
	out.Constraint = constraint
	return &out
}

// Withf returns a copy of e with a formatted detail message.
func (e *Error) Withf(format string, args ...any) *Error {
	out := *e
	out.Detail = fmt.Sprintf(format, args...)
	return &out
}

// Wrap returns a copy of e that records cause as the underlying error.
func (e *Error) Wrap(cause error) *Error {
	out := *e
	out.Underlying = cause
	return &out
}

func newFault(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

// Validation
var (
	ErrInvalidInput         = newFault(KindValidation, "invalid_input")
	ErrInvalidDeadlineOrder = newFault(KindValidation, "invalid_deadline_order")
)

// Conflict
var (
	ErrDuplicateIdentity     = newFault(KindConflict, "duplicate_identity")
	ErrRoleConflict          = newFault(KindConflict, "role_conflict")
	ErrDuplicateBallot       = newFault(KindConflict, "duplicate_ballot")
	ErrDuplicateVote         = newFault(KindConflict, "duplicate_vote")
	ErrDuplicateCampaign     = newFault(KindConflict, "duplicate_campaign")
	ErrDuplicateJurisdiction = newFault(KindConflict, "duplicate_jurisdiction")
	ErrDuplicateName         = newFault(KindConflict, "duplicate_name")
	ErrDuplicateProposition  = newFault(KindConflict, "duplicate_proposition")
)

// Referential
var (
	ErrOrphanJurisdiction = newFault(KindReferential, "orphan_jurisdiction")
	ErrForeignTarget      = newFault(KindReferential, "foreign_target")
	ErrMissingReference   = newFault(KindReferential, "missing_reference")
)

// State
var (
	ErrBallotNotCast     = newFault(KindState, "ballot_not_cast")
	ErrBallotSpoiled     = newFault(KindState, "ballot_spoiled")
	ErrTiedPoll          = newFault(KindState, "tied_poll")
	ErrElectionClosed    = newFault(KindState, "election_closed")
	ErrElectionNotClosed = newFault(KindState, "election_not_closed")
	ErrContestLocked     = newFault(KindState, "contest_locked")
	ErrNoCampaigns       = newFault(KindState, "no_campaigns")
	ErrTallyInProgress   = newFault(KindState, "tally_in_progress")
)

var ErrNotFound = newFault(KindNotFound, "not_found")

// KindOf returns the Kind of the first fault in err's chain.
func KindOf(err error) Kind {
	var f *Error
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUnknown
}

// CodeOf returns the Code of the first fault in err's chain, or "internal".
func CodeOf(err error) string {
	var f *Error
	if errors.As(err, &f) {
		return f.Code
	}
	return "internal"
}

// Retryable reports whether a caller may repeat the same request unchanged.
// Domain faults never are; unclassified errors (timeouts, dropped
// connections) are left to the caller's judgement and reported as retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == KindUnknown
}
