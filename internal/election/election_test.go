package election

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civitas.org/internal/fault"
)

func TestStatusAt(t *testing.T) {
	e := Election{Deadlines: Deadlines{
		EarlyVotingOpening:   date(2026, 10, 20),
		EarlyVotingDeadline:  date(2026, 11, 1),
		InPersonElectionDate: date(2026, 11, 3),
	}}

	assert.Equal(t, StatusUpcoming, e.StatusAt(date(2026, 10, 19).Add(23*time.Hour)))
	assert.Equal(t, StatusOpen, e.StatusAt(date(2026, 10, 20)))
	assert.Equal(t, StatusOpen, e.StatusAt(date(2026, 11, 3).Add(23*time.Hour)))
	assert.Equal(t, StatusClosed, e.StatusAt(date(2026, 11, 4)))
}

func TestStatusAtExplicitClose(t *testing.T) {
	e := Election{
		Deadlines: Deadlines{InPersonElectionDate: date(2026, 11, 3)},
		ClosedAt:  date(2026, 11, 3).Add(20 * time.Hour),
	}
	assert.Equal(t, StatusOpen, e.StatusAt(date(2026, 11, 3).Add(19*time.Hour)))
	assert.Equal(t, StatusClosed, e.StatusAt(date(2026, 11, 3).Add(20*time.Hour)))
}

func TestStatusAtWithoutElectionDay(t *testing.T) {
	e := Election{Deadlines: Deadlines{
		OnlineVotingOpening:  date(2026, 6, 1),
		OnlineVotingDeadline: date(2026, 6, 7),
	}}
	assert.Equal(t, StatusOpen, e.StatusAt(date(2026, 6, 7)))
	assert.Equal(t, StatusClosed, e.StatusAt(date(2026, 6, 8)))

	assert.Equal(t, StatusUpcoming, Election{}.StatusAt(time.Now()))
}

func TestPrepareSpec(t *testing.T) {
	spec, err := PrepareSpec(Spec{
		Name:      "  General 2026 ",
		Type:      "general",
		Deadlines: Deadlines{InPersonElectionDate: time.Date(2026, 11, 3, 15, 4, 0, 0, time.UTC)},
	})
	require.NoError(t, err)
	assert.Equal(t, "General 2026", spec.Name)
	assert.Equal(t, date(2026, 11, 3), spec.Deadlines.InPersonElectionDate)

	_, err = PrepareSpec(Spec{Name: "Primary"})
	assert.ErrorIs(t, err, fault.ErrInvalidInput)

	_, err = PrepareSpec(Spec{Name: "Primary", Type: "primary", Deadlines: Deadlines{
		MailBallotDeployment: date(2026, 5, 2),
		MailReturnDeadline:   date(2026, 5, 1),
	}})
	assert.ErrorIs(t, err, fault.ErrInvalidDeadlineOrder)
}

func TestFilterMatch(t *testing.T) {
	now := date(2026, 11, 10)
	closed := Election{ID: 1, OrganizerAccountID: 4, Deadlines: Deadlines{InPersonElectionDate: date(2026, 11, 3)}}
	closed.Scope.ID = 9

	assert.True(t, Filter{}.Match(closed, now))
	assert.True(t, Filter{ScopeID: 9, Status: StatusClosed}.Match(closed, now))
	assert.False(t, Filter{ScopeID: 8}.Match(closed, now))
	assert.False(t, Filter{OrganizerAccountID: 5}.Match(closed, now))
	assert.False(t, Filter{Status: StatusOpen}.Match(closed, now))
}
