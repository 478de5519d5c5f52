package pg

import (
	"context"
	"database/sql"

	"civitas.org/internal/contest"
	"civitas.org/internal/fault"
	"civitas.org/internal/guide"
)

func (s *Store) CreateGuide(ctx context.Context, enterpriseID, electionID int64) (guide.Guide, error) {
	g := guide.Guide{EnterpriseID: enterpriseID, ElectionID: electionID, CreatedAt: s.clock()}
	err := s.db.QueryRowContext(ctx, `
		insert into guides (enterprise_id, election_id, created_at) values ($1, $2, $3) returning id
	`, enterpriseID, electionID, g.CreatedAt).Scan(&g.ID)
	if err != nil {
		return guide.Guide{}, translate(err)
	}
	return g, nil
}

func (s *Store) AddRecommendation(ctx context.Context, guideID int64, target contest.Target, stance contest.Choice) (guide.Recommendation, error) {
	if err := guide.ValidateRecommendation(target, stance); err != nil {
		return guide.Recommendation{}, err
	}
	var r guide.Recommendation
	err := s.inTx(ctx, nil, func(tx *sql.Tx) error {
		var guideElection int64
		err := tx.QueryRowContext(ctx, `select election_id from guides where id = $1`, guideID).Scan(&guideElection)
		if noRows(err) {
			return fault.ErrMissingReference.At("guide", guideID)
		}
		if err != nil {
			return err
		}
		electionID, _, err := resolveTarget(ctx, tx, target)
		if err != nil {
			return err
		}
		if electionID != guideElection {
			return fault.ErrForeignTarget.At("guide", guideID).
				Withf("%s is in election %d, guide covers %d", target.Kind(), electionID, guideElection)
		}
		conflict := "(guide_id, proposition_id) where proposition_id is not null"
		if target.IsCampaign() {
			conflict = "(guide_id, campaign_id) where campaign_id is not null"
		}
		r, err = scanRecommendation(tx.QueryRowContext(ctx, `
			insert into recommendations (guide_id, campaign_id, proposition_id, stance, created_at)
			values ($1, $2, $3, $4, $5)
			on conflict `+conflict+` do update set stance = excluded.stance
			returning `+recommendationColumns,
			guideID, nullInt(target.CampaignID), nullInt(target.PropositionID), stance, s.clock()))
		return err
	})
	if err != nil {
		return guide.Recommendation{}, translate(err)
	}
	return r, nil
}

func (s *Store) ListGuides(ctx context.Context, electionID int64) ([]guide.Guide, error) {
	return list(ctx, s.db, scanGuide, `
		select id, enterprise_id, election_id, created_at from guides where election_id = $1 order by id
	`, electionID)
}

func (s *Store) ListRecommendations(ctx context.Context, guideID int64) ([]guide.Recommendation, error) {
	return list(ctx, s.db, scanRecommendation, `
		select `+recommendationColumns+` from recommendations where guide_id = $1 order by id
	`, guideID)
}

func (s *Store) Endorse(ctx context.Context, enterpriseID int64, target contest.Target) (guide.Endorsement, error) {
	if err := target.Validate(); err != nil {
		return guide.Endorsement{}, err
	}
	var e guide.Endorsement
	err := s.inTx(ctx, nil, func(tx *sql.Tx) error {
		var found int64
		err := tx.QueryRowContext(ctx, `select id from enterprises where id = $1`, enterpriseID).Scan(&found)
		if noRows(err) {
			return fault.ErrMissingReference.At("enterprise", enterpriseID)
		}
		if err != nil {
			return err
		}
		electionID, _, err := resolveTarget(ctx, tx, target)
		if err != nil {
			return err
		}
		conflict := "(enterprise_id, proposition_id) where proposition_id is not null"
		if target.IsCampaign() {
			conflict = "(enterprise_id, campaign_id) where campaign_id is not null"
		}
		if _, err := tx.ExecContext(ctx, `
			insert into endorsements (enterprise_id, election_id, campaign_id, proposition_id, created_at)
			values ($1, $2, $3, $4, $5)
			on conflict `+conflict+` do nothing
		`, enterpriseID, electionID, nullInt(target.CampaignID), nullInt(target.PropositionID), s.clock()); err != nil {
			return err
		}
		e, err = scanEndorsement(tx.QueryRowContext(ctx, `
			select `+endorsementColumns+` from endorsements
			where enterprise_id = $1 and campaign_id is not distinct from $2 and proposition_id is not distinct from $3
		`, enterpriseID, nullInt(target.CampaignID), nullInt(target.PropositionID)))
		return err
	})
	if err != nil {
		return guide.Endorsement{}, translate(err)
	}
	return e, nil
}

func (s *Store) ListEndorsements(ctx context.Context, enterpriseID int64) ([]guide.Endorsement, error) {
	return list(ctx, s.db, scanEndorsement, `
		select `+endorsementColumns+` from endorsements where enterprise_id = $1 order by id
	`, enterpriseID)
}

const (
	recommendationColumns = `id, guide_id, coalesce(campaign_id, 0), coalesce(proposition_id, 0), stance, created_at`
	endorsementColumns    = `id, enterprise_id, election_id, coalesce(campaign_id, 0), coalesce(proposition_id, 0), created_at`
)

func scanGuide(row rowScanner) (guide.Guide, error) {
	var g guide.Guide
	err := row.Scan(&g.ID, &g.EnterpriseID, &g.ElectionID, &g.CreatedAt)
	g.CreatedAt = g.CreatedAt.UTC()
	return g, err
}

func scanRecommendation(row rowScanner) (guide.Recommendation, error) {
	var r guide.Recommendation
	err := row.Scan(&r.ID, &r.GuideID, &r.Target.CampaignID, &r.Target.PropositionID, &r.Stance, &r.CreatedAt)
	r.CreatedAt = r.CreatedAt.UTC()
	return r, err
}

func scanEndorsement(row rowScanner) (guide.Endorsement, error) {
	var e guide.Endorsement
	err := row.Scan(&e.ID, &e.EnterpriseID, &e.ElectionID, &e.Target.CampaignID, &e.Target.PropositionID, &e.CreatedAt)
	e.CreatedAt = e.CreatedAt.UTC()
	return e, err
}
