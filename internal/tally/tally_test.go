package tally

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civitas.org/internal/fault"
)

func TestSelectWinner(t *testing.T) {
	w, err := SelectWinner(1, map[int64]int64{10: 3, 11: 2})
	require.NoError(t, err)
	assert.Equal(t, Winner{PollID: 1, CampaignID: 10, VotesReceived: 3}, w)
}

func TestSelectWinnerSingleCampaignWithoutVotes(t *testing.T) {
	w, err := SelectWinner(1, map[int64]int64{10: 0})
	require.NoError(t, err)
	assert.Equal(t, int64(10), w.CampaignID)
	assert.Zero(t, w.VotesReceived)
}

func TestSelectWinnerTie(t *testing.T) {
	_, err := SelectWinner(4, map[int64]int64{12: 2, 10: 2, 11: 1})
	require.ErrorIs(t, err, fault.ErrTiedPoll)

	var tie *TieError
	require.True(t, errors.As(err, &tie))
	assert.Equal(t, []int64{10, 12}, tie.CampaignIDs)
	assert.Equal(t, int64(2), tie.Votes)
	assert.Equal(t, fault.KindState, fault.KindOf(err))
}

func TestSelectWinnerAllZeroIsTie(t *testing.T) {
	_, err := SelectWinner(4, map[int64]int64{1: 0, 2: 0})
	assert.ErrorIs(t, err, fault.ErrTiedPoll)
}

func TestSelectWinnerNoCampaigns(t *testing.T) {
	_, err := SelectWinner(4, nil)
	assert.ErrorIs(t, err, fault.ErrNoCampaigns)
}

func TestOutcomeLabels(t *testing.T) {
	assert.Equal(t, "winner", outcome(nil))
	assert.Equal(t, "tie", outcome(&TieError{PollID: 1}))
	assert.Equal(t, "empty", outcome(fault.ErrNoCampaigns))
	assert.Equal(t, "busy", outcome(fault.ErrTallyInProgress))
	assert.Equal(t, "error", outcome(errors.New("boom")))
}
