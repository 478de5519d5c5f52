// Package guide indexes voter guides, recommendations and endorsements
// published by enterprises. Nothing here affects the ledger or tallies.
package guide

import (
	"context"
	"time"

	"civitas.org/internal/contest"
	"civitas.org/internal/fault"
)

// Guide is an enterprise's guide to one election.
type Guide struct {
	ID           int64
	EnterpriseID int64
	ElectionID   int64
	CreatedAt    time.Time
}

// Recommendation is one entry in a guide. Stance is set only for
// propositions.
type Recommendation struct {
	ID        int64
	GuideID   int64
	Target    contest.Target
	Stance    contest.Choice
	CreatedAt time.Time
}

// Endorsement is an enterprise's public support for a campaign or
// proposition. ElectionID is derived from the target.
type Endorsement struct {
	ID           int64
	EnterpriseID int64
	ElectionID   int64
	Target       contest.Target
	CreatedAt    time.Time
}

type Index interface {
	CreateGuide(ctx context.Context, enterpriseID, electionID int64) (Guide, error)
	// AddRecommendation fails with ErrForeignTarget when the target is not
	// part of the guide's election. Recommending the same target again
	// replaces its stance.
	AddRecommendation(ctx context.Context, guideID int64, target contest.Target, stance contest.Choice) (Recommendation, error)
	ListGuides(ctx context.Context, electionID int64) ([]Guide, error)
	ListRecommendations(ctx context.Context, guideID int64) ([]Recommendation, error)
	// Endorse is idempotent per enterprise and target.
	Endorse(ctx context.Context, enterpriseID int64, target contest.Target) (Endorsement, error)
	ListEndorsements(ctx context.Context, enterpriseID int64) ([]Endorsement, error)
}

// ValidateRecommendation checks a target and stance before lookups.
func ValidateRecommendation(target contest.Target, stance contest.Choice) error {
	if err := target.Validate(); err != nil {
		return err
	}
	if target.IsCampaign() && stance != contest.ChoiceNone {
		return fault.ErrInvalidInput.At("campaign", target.CampaignID).Withf("campaign recommendations carry no stance")
	}
	if target.IsProposition() && stance != contest.ChoiceNone && !stance.Valid() {
		return fault.ErrInvalidInput.At("proposition", target.PropositionID).Withf("stance must be yes or no")
	}
	return nil
}
