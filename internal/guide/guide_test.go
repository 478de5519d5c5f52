package guide

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"civitas.org/internal/contest"
	"civitas.org/internal/fault"
)

func TestValidateRecommendation(t *testing.T) {
	assert.NoError(t, ValidateRecommendation(contest.CampaignTarget(1), contest.ChoiceNone))
	assert.NoError(t, ValidateRecommendation(contest.PropositionTarget(1), contest.ChoiceNo))
	assert.NoError(t, ValidateRecommendation(contest.PropositionTarget(1), contest.ChoiceNone))

	assert.ErrorIs(t, ValidateRecommendation(contest.CampaignTarget(1), contest.ChoiceYes), fault.ErrInvalidInput)
	assert.ErrorIs(t, ValidateRecommendation(contest.PropositionTarget(1), "maybe"), fault.ErrInvalidInput)
	assert.ErrorIs(t, ValidateRecommendation(contest.Target{}, contest.ChoiceNone), fault.ErrInvalidInput)
}
