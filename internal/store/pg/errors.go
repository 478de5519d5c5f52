package pg

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"civitas.org/internal/fault"
)

const (
	pgErrUniqueViolation      = "23505"
	pgErrForeignKeyViolation  = "23503"
	pgErrCheckViolation       = "23514"
	pgErrSerializationFailure = "40001"
	pgErrDeadlockDetected     = "40P01"
)

// uniqueFaults maps unique constraints and indexes to the conflict they mean.
var uniqueFaults = map[string]*fault.Error{
	"users_email_key":                         fault.ErrDuplicateIdentity,
	"users_phone_key":                         fault.ErrDuplicateIdentity,
	"accounts_user_id_key":                    fault.ErrRoleConflict,
	"administrations_name_key":                fault.ErrDuplicateName,
	"administrations_admin_account_id_key":    fault.ErrDuplicateName,
	"enterprises_name_key":                    fault.ErrDuplicateName,
	"enterprises_partner_account_id_key":      fault.ErrDuplicateName,
	"jurisdictions_parent_name_key":           fault.ErrDuplicateJurisdiction,
	"campaigns_poll_candidate_key":            fault.ErrDuplicateCampaign,
	"campaigns_poll_representative_key":       fault.ErrDuplicateCampaign,
	"propositions_election_bill_key":          fault.ErrDuplicateProposition,
	"ballots_voter_election_live_key":         fault.ErrDuplicateBallot,
	"vote_claims_voter_poll_key":              fault.ErrDuplicateVote,
	"vote_claims_voter_proposition_key":       fault.ErrDuplicateVote,
	"guides_enterprise_election_key":          fault.ErrDuplicateName,
	"endorsements_enterprise_campaign_key":    fault.ErrDuplicateName,
	"endorsements_enterprise_proposition_key": fault.ErrDuplicateName,
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// translate turns constraint violations into faults and passes everything
// else through unchanged.
func translate(err error) error {
	pgErr, ok := maybePgError(err)
	if !ok {
		return err
	}
	c := pgErr.ConstraintName
	switch pgErr.Code {
	case pgErrUniqueViolation:
		if f, ok := uniqueFaults[c]; ok {
			return f.On(c).Wrap(err)
		}
		return fault.ErrInvalidInput.On(c).Wrap(err)
	case pgErrForeignKeyViolation:
		return fault.ErrMissingReference.On(c).Wrap(err)
	case pgErrCheckViolation:
		if strings.HasPrefix(c, "election_deadlines_") {
			return fault.ErrInvalidDeadlineOrder.On(c).Wrap(err)
		}
		return fault.ErrInvalidInput.On(c).Wrap(err)
	}
	return err
}

func retryable(err error) bool {
	pgErr, ok := maybePgError(err)
	return ok && (pgErr.Code == pgErrSerializationFailure || pgErr.Code == pgErrDeadlockDetected)
}
