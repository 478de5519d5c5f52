package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civitas.org/internal/contest"
	"civitas.org/internal/election"
	"civitas.org/internal/fault"
)

var day = time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC)

func openElection() election.Election {
	return election.Election{ID: 1, Deadlines: election.Deadlines{InPersonElectionDate: day}}
}

func TestBallotTransitions(t *testing.T) {
	b := Ballot{ID: 1, Status: BallotPending}

	cast, err := Finalize(b, day)
	require.NoError(t, err)
	assert.Equal(t, BallotCast, cast.Status)
	assert.Equal(t, day, cast.CastAt)

	again, err := Finalize(cast, day.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, day, again.CastAt)

	spoiled, err := Spoil(cast, " wrong precinct ", day)
	require.NoError(t, err)
	assert.Equal(t, BallotSpoiled, spoiled.Status)
	assert.Equal(t, "wrong precinct", spoiled.SpoilReason)

	_, err = Spoil(spoiled, "again", day)
	assert.ErrorIs(t, err, fault.ErrBallotSpoiled)
	_, err = Finalize(spoiled, day)
	assert.ErrorIs(t, err, fault.ErrBallotSpoiled)
}

func TestCheckCastable(t *testing.T) {
	e := openElection()

	require.NoError(t, CheckCastable(Ballot{ID: 1, Status: BallotPending}, e, day.Add(8*time.Hour)))
	require.NoError(t, CheckCastable(Ballot{ID: 1, Status: BallotCast}, e, day.Add(8*time.Hour)))

	err := CheckCastable(Ballot{ID: 1, Status: BallotPending}, e, day.AddDate(0, 0, -1))
	assert.ErrorIs(t, err, fault.ErrBallotNotCast)

	err = CheckCastable(Ballot{ID: 1, Status: BallotPending}, e, day.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, fault.ErrBallotNotCast)

	err = CheckCastable(Ballot{ID: 1, Status: BallotSpoiled}, e, day.Add(8*time.Hour))
	assert.ErrorIs(t, err, fault.ErrBallotSpoiled)
}

func TestCheckIssuable(t *testing.T) {
	e := openElection()
	require.NoError(t, CheckIssuable(e, day.AddDate(0, -1, 0)))
	assert.ErrorIs(t, CheckIssuable(e, day.AddDate(0, 0, 2)), fault.ErrElectionClosed)
}

func TestPrepareLocations(t *testing.T) {
	locs, err := PrepareLocations([]string{" Library ", "", "Gym"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Library", "Gym"}, locs)

	_, err = PrepareLocations([]string{"a", "b", "c", "d"})
	assert.ErrorIs(t, err, fault.ErrInvalidInput)
}

func TestSelectionValidate(t *testing.T) {
	require.NoError(t, Selection{Target: contest.CampaignTarget(1)}.Validate())
	require.NoError(t, Selection{Target: contest.PropositionTarget(1), Choice: contest.ChoiceYes}.Validate())
	assert.ErrorIs(t, Selection{Target: contest.PropositionTarget(1)}.Validate(), fault.ErrInvalidInput)
	assert.ErrorIs(t, Selection{}.Validate(), fault.ErrInvalidInput)
}

func TestVoteQueryPageLimit(t *testing.T) {
	assert.Equal(t, defaultVoteLimit, VoteQuery{}.PageLimit())
	assert.Equal(t, 10, VoteQuery{Limit: 10}.PageLimit())
	assert.Equal(t, maxVoteLimit, VoteQuery{Limit: 5000}.PageLimit())
}
