package pg

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"civitas.org/internal/contest"
	"civitas.org/internal/fault"
	"civitas.org/internal/identity"
	"civitas.org/internal/ledger"
)

const ballotColumns = `id, voter_id, election_id, polling_locations, status, spoil_reason, issued_at, cast_at, spoiled_at`

func scanBallot(row rowScanner) (ledger.Ballot, error) {
	var (
		b               ledger.Ballot
		castAt, spoiled sql.NullTime
	)
	err := row.Scan(&b.ID, &b.VoterID, &b.ElectionID, pgtype.NewMap().SQLScanner(&b.PollingLocations),
		&b.Status, &b.SpoilReason, &b.IssuedAt, &castAt, &spoiled)
	if err != nil {
		return ledger.Ballot{}, err
	}
	if b.PollingLocations == nil {
		b.PollingLocations = []string{}
	}
	b.IssuedAt = b.IssuedAt.UTC()
	b.CastAt = timeOf(castAt)
	b.SpoiledAt = timeOf(spoiled)
	return b, nil
}

func (s *Store) IssueBallot(ctx context.Context, voterID, electionID int64, locations []string) (ledger.Ballot, error) {
	locations, err := ledger.PrepareLocations(locations)
	if err != nil {
		return ledger.Ballot{}, err
	}
	var b ledger.Ballot
	err = s.inTx(ctx, nil, func(tx *sql.Tx) error {
		if err := ownerAccount(ctx, tx, voterID, identity.RoleVoter); err != nil {
			return err
		}
		e, err := getElection(ctx, tx, electionID, "")
		if errors.Is(err, fault.ErrNotFound) {
			return fault.ErrMissingReference.At("election", electionID)
		}
		if err != nil {
			return err
		}
		now := s.clock()
		if err := ledger.CheckIssuable(e, now); err != nil {
			return err
		}
		b, err = scanBallot(tx.QueryRowContext(ctx, `
			insert into ballots (voter_id, election_id, polling_locations, status, issued_at)
			values ($1, $2, $3, $4, $5)
			returning `+ballotColumns,
			voterID, electionID, locations, ledger.BallotPending, now))
		return err
	})
	if err != nil {
		return ledger.Ballot{}, translate(err)
	}
	return b, nil
}

func (s *Store) GetBallot(ctx context.Context, id int64) (ledger.Ballot, error) {
	return getBallot(ctx, s.db, id, "")
}

func getBallot(ctx context.Context, q querier, id int64, suffix string) (ledger.Ballot, error) {
	b, err := scanBallot(q.QueryRowContext(ctx, `select `+ballotColumns+` from ballots where id = $1 `+suffix, id))
	if noRows(err) {
		return ledger.Ballot{}, fault.ErrNotFound.At("ballot", id)
	}
	return b, err
}

func (s *Store) FinalizeBallot(ctx context.Context, id int64) (ledger.Ballot, error) {
	var out ledger.Ballot
	err := s.inTx(ctx, nil, func(tx *sql.Tx) error {
		b, err := getBallot(ctx, tx, id, "for update")
		if err != nil {
			return err
		}
		wasPending := b.Status == ledger.BallotPending
		if b, err = ledger.Finalize(b, s.clock()); err != nil {
			return err
		}
		if wasPending {
			if _, err := tx.ExecContext(ctx, `update ballots set status = $2, cast_at = $3 where id = $1`,
				id, b.Status, b.CastAt); err != nil {
				return err
			}
		}
		out = b
		return nil
	})
	if err != nil {
		return ledger.Ballot{}, translate(err)
	}
	return out, nil
}

func (s *Store) SpoilBallot(ctx context.Context, id int64, reason string) (ledger.Ballot, error) {
	var out ledger.Ballot
	err := s.inTx(ctx, nil, func(tx *sql.Tx) error {
		b, err := getBallot(ctx, tx, id, "for update")
		if err != nil {
			return err
		}
		if b, err = ledger.Spoil(b, reason, s.clock()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			update ballots set status = $2, spoil_reason = $3, spoiled_at = $4 where id = $1
		`, id, b.Status, b.SpoilReason, b.SpoiledAt); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `delete from vote_claims where ballot_id = $1`, id); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return ledger.Ballot{}, translate(err)
	}
	return out, nil
}

// CastVote runs serializable so concurrent casts for the same contest are
// decided by the vote_claims unique indexes.
func (s *Store) CastVote(ctx context.Context, ballotID int64, sel ledger.Selection) (ledger.Vote, error) {
	if err := sel.Validate(); err != nil {
		return ledger.Vote{}, err
	}
	var v ledger.Vote
	err := s.serializable(ctx, func(tx *sql.Tx) error {
		b, err := getBallot(ctx, tx, ballotID, "for update")
		if err != nil {
			return err
		}
		e, err := getElection(ctx, tx, b.ElectionID, "")
		if err != nil {
			return err
		}
		now := s.clock()
		if err := ledger.CheckCastable(b, e, now); err != nil {
			return err
		}
		owner, pollID, err := resolveTarget(ctx, tx, sel.Target)
		if err != nil {
			return err
		}
		if owner != b.ElectionID {
			return fault.ErrForeignTarget.At(sel.Target.Kind(), targetID(sel.Target)).
				Withf("%s is in election %d, ballot is for %d", sel.Target.Kind(), owner, b.ElectionID)
		}
		if _, err := tx.ExecContext(ctx, `
			insert into vote_claims (ballot_id, voter_id, poll_id, proposition_id) values ($1, $2, $3, $4)
		`, b.ID, b.VoterID, nullInt(pollID), nullInt(sel.Target.PropositionID)); err != nil {
			return err
		}
		v = ledger.Vote{
			BallotID: b.ID,
			VoterID:  b.VoterID,
			PollID:   pollID,
			Target:   sel.Target,
			Choice:   sel.Choice,
			CastAt:   now,
		}
		err = tx.QueryRowContext(ctx, `
			insert into votes (ballot_id, voter_id, poll_id, campaign_id, proposition_id, choice, cast_at)
			values ($1, $2, $3, $4, $5, $6, $7)
			returning id
		`, b.ID, b.VoterID, nullInt(pollID), nullInt(sel.Target.CampaignID), nullInt(sel.Target.PropositionID),
			sel.Choice, now).Scan(&v.ID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			update ballots set status = $2, cast_at = $3 where id = $1 and status = $4
		`, b.ID, ledger.BallotCast, now, ledger.BallotPending)
		return err
	})
	if err != nil {
		return ledger.Vote{}, err
	}
	return v, nil
}

// resolveTarget returns the election a target belongs to, and the poll of a
// campaign target.
func resolveTarget(ctx context.Context, q querier, t contest.Target) (electionID, pollID int64, err error) {
	entity, id := "proposition", t.PropositionID
	if t.IsCampaign() {
		entity, id = "campaign", t.CampaignID
		err = q.QueryRowContext(ctx, `
			select p.election_id, p.id from campaigns c join polls p on p.id = c.poll_id where c.id = $1
		`, id).Scan(&electionID, &pollID)
	} else {
		err = q.QueryRowContext(ctx, `select election_id from propositions where id = $1`, id).Scan(&electionID)
	}
	if noRows(err) {
		return 0, 0, fault.ErrMissingReference.At(entity, id)
	}
	return electionID, pollID, err
}

func (s *Store) ListVotes(ctx context.Context, q ledger.VoteQuery) ([]ledger.Vote, int64, error) {
	limit := q.PageLimit()
	var (
		where = []string{"v.id > $1"}
		args  = []any{q.AfterID}
	)
	if q.BallotID != 0 {
		args = append(args, q.BallotID)
		where = append(where, "v.ballot_id = $"+strconv.Itoa(len(args)))
	}
	if q.ElectionID != 0 {
		args = append(args, q.ElectionID)
		where = append(where, "b.election_id = $"+strconv.Itoa(len(args)))
	}
	args = append(args, limit+1)
	votes, err := list(ctx, s.db, scanVote, `
		select v.id, v.ballot_id, v.voter_id, coalesce(v.poll_id, 0), coalesce(v.campaign_id, 0),
			coalesce(v.proposition_id, 0), v.choice, v.cast_at
		from votes v join ballots b on b.id = v.ballot_id
		where `+strings.Join(where, " and ")+`
		order by v.id
		limit $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	if len(votes) > limit {
		votes = votes[:limit]
		return votes, votes[limit-1].ID, nil
	}
	return votes, 0, nil
}

func scanVote(row rowScanner) (ledger.Vote, error) {
	var v ledger.Vote
	err := row.Scan(&v.ID, &v.BallotID, &v.VoterID, &v.PollID, &v.Target.CampaignID,
		&v.Target.PropositionID, &v.Choice, &v.CastAt)
	v.CastAt = v.CastAt.UTC()
	return v, err
}

func targetID(t contest.Target) int64 {
	if t.IsCampaign() {
		return t.CampaignID
	}
	return t.PropositionID
}
