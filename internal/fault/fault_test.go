package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrichedFaultMatchesSentinel(t *testing.T) {
	err := ErrDuplicateVote.At("poll", 7).On("vote_claims_poll_key")

	require.ErrorIs(t, err, ErrDuplicateVote)
	assert.NotErrorIs(t, err, ErrDuplicateBallot)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, "duplicate_vote", CodeOf(err))
	assert.Equal(t, "duplicate_vote: poll 7 (vote_claims_poll_key)", err.Error())
}

func TestSentinelIsNotMutated(t *testing.T) {
	_ = ErrNotFound.At("ballot", 3).Withf("looked up by id")
	assert.Empty(t, ErrNotFound.Entity)
	assert.Zero(t, ErrNotFound.ID)
	assert.Empty(t, ErrNotFound.Detail)
}

func TestWrappedChain(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("cast vote: %w", ErrBallotSpoiled.At("ballot", 9).Wrap(cause))

	require.ErrorIs(t, err, ErrBallotSpoiled)
	require.ErrorIs(t, err, cause)
	assert.Equal(t, KindState, KindOf(err))
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(ErrForeignTarget))
	assert.False(t, Retryable(ErrInvalidDeadlineOrder.Withf("x")))
	assert.True(t, Retryable(errors.New("i/o timeout")))
	assert.Equal(t, "internal", CodeOf(errors.New("boom")))
}
