package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"civitas.org/internal/election"
	"civitas.org/internal/fault"
	"civitas.org/internal/identity"
	"civitas.org/internal/jurisdiction"
)

const electionSelect = `
	select e.id, e.name, e.type, e.overview, coalesce(e.scope_id, 0), coalesce(j.level, ''),
		coalesce(e.organizer_account_id, 0), e.closed_at, e.created_at,
		o.early_voting, o.vote_by_mail, o.in_person_voting, o.mobile_voting, o.online_voting,
		d.voter_registration_deadline, d.mail_in_ballot_deployment_date, d.mail_in_ballot_return_opening,
		d.mail_in_ballot_return_deadline, d.mail_in_ballot_postmark_deadline,
		d.early_in_person_voting_opening, d.early_in_person_voting_deadline,
		d.mobile_voting_opening, d.mobile_voting_deadline,
		d.online_voting_opening, d.online_voting_deadline, d.in_person_election_date
	from elections e
	join election_options o on o.election_id = e.id
	join election_deadlines d on d.election_id = e.id
	left join jurisdictions j on j.id = e.scope_id
`

// deadlineFields lists the deadline dates in election_deadlines column order.
func deadlineFields(d *election.Deadlines) []*time.Time {
	return []*time.Time{
		&d.VoterRegistration, &d.MailBallotDeployment, &d.MailReturnOpening,
		&d.MailReturnDeadline, &d.MailPostmarkDeadline,
		&d.EarlyVotingOpening, &d.EarlyVotingDeadline,
		&d.MobileVotingOpening, &d.MobileVotingDeadline,
		&d.OnlineVotingOpening, &d.OnlineVotingDeadline, &d.InPersonElectionDate,
	}
}

func scanElection(row rowScanner) (election.Election, error) {
	var (
		e      election.Election
		level  string
		closed sql.NullTime
		dates  [12]sql.NullTime
	)
	dest := []any{
		&e.ID, &e.Name, &e.Type, &e.Overview, &e.Scope.ID, &level,
		&e.OrganizerAccountID, &closed, &e.CreatedAt,
		&e.Options.EarlyVoting, &e.Options.VoteByMail, &e.Options.InPersonVoting,
		&e.Options.MobileVoting, &e.Options.OnlineVoting,
	}
	for i := range dates {
		dest = append(dest, &dates[i])
	}
	if err := row.Scan(dest...); err != nil {
		return election.Election{}, err
	}
	e.Scope.Level = jurisdiction.Level(level)
	e.ClosedAt = timeOf(closed)
	for i, at := range deadlineFields(&e.Deadlines) {
		*at = timeOf(dates[i])
	}
	return e, nil
}

func deadlineArgs(d election.Deadlines) []any {
	fields := deadlineFields(&d)
	args := make([]any, len(fields))
	for i, at := range fields {
		args[i] = nullTime(*at)
	}
	return args
}

func (s *Store) OpenElection(ctx context.Context, spec election.Spec) (election.Election, error) {
	spec, err := election.PrepareSpec(spec)
	if err != nil {
		return election.Election{}, err
	}
	var out election.Election
	err = s.inTx(ctx, nil, func(tx *sql.Tx) error {
		if !spec.Scope.IsZero() {
			var level jurisdiction.Level
			err := tx.QueryRowContext(ctx, `select level from jurisdictions where id = $1`, spec.Scope.ID).Scan(&level)
			if noRows(err) || (err == nil && spec.Scope.Level != "" && level != spec.Scope.Level) {
				return fault.ErrMissingReference.At("jurisdiction", spec.Scope.ID)
			}
			if err != nil {
				return err
			}
			spec.Scope.Level = level
		}
		if spec.OrganizerAccountID != 0 {
			var kind identity.RoleKind
			err := tx.QueryRowContext(ctx, `select account_type from accounts where id = $1`, spec.OrganizerAccountID).Scan(&kind)
			if noRows(err) {
				return fault.ErrMissingReference.At("account", spec.OrganizerAccountID)
			}
			if err != nil {
				return err
			}
			if !kind.CanOrganize() {
				return fault.ErrRoleConflict.At("account", spec.OrganizerAccountID).
					Withf("organizer must be an admin or super_admin, not %s", kind)
			}
		}

		out = election.Election{
			Name:               spec.Name,
			Type:               spec.Type,
			Overview:           spec.Overview,
			Scope:              spec.Scope,
			OrganizerAccountID: spec.OrganizerAccountID,
			Options:            spec.Options,
			Deadlines:          spec.Deadlines,
			CreatedAt:          s.clock(),
		}
		if err := tx.QueryRowContext(ctx, `
			insert into elections (name, type, overview, scope_id, organizer_account_id, created_at)
			values ($1, $2, $3, $4, $5, $6)
			returning id
		`, out.Name, out.Type, out.Overview, nullInt(out.Scope.ID), nullInt(out.OrganizerAccountID), out.CreatedAt).Scan(&out.ID); err != nil {
			return err
		}
		o := out.Options
		if _, err := tx.ExecContext(ctx, `
			insert into election_options (election_id, early_voting, vote_by_mail, in_person_voting, mobile_voting, online_voting)
			values ($1, $2, $3, $4, $5, $6)
		`, out.ID, o.EarlyVoting, o.VoteByMail, o.InPersonVoting, o.MobileVoting, o.OnlineVoting); err != nil {
			return err
		}
		args := append([]any{out.ID}, deadlineArgs(out.Deadlines)...)
		_, err := tx.ExecContext(ctx, `
			insert into election_deadlines (election_id,
				voter_registration_deadline, mail_in_ballot_deployment_date, mail_in_ballot_return_opening,
				mail_in_ballot_return_deadline, mail_in_ballot_postmark_deadline,
				early_in_person_voting_opening, early_in_person_voting_deadline,
				mobile_voting_opening, mobile_voting_deadline,
				online_voting_opening, online_voting_deadline, in_person_election_date)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, args...)
		return err
	})
	if err != nil {
		return election.Election{}, translate(err)
	}
	return out, nil
}

func (s *Store) GetElection(ctx context.Context, id int64) (election.Election, error) {
	return getElection(ctx, s.db, id, "")
}

func getElection(ctx context.Context, q querier, id int64, suffix string) (election.Election, error) {
	e, err := scanElection(q.QueryRowContext(ctx, electionSelect+` where e.id = $1 `+suffix, id))
	if noRows(err) {
		return election.Election{}, fault.ErrNotFound.At("election", id)
	}
	return e, err
}

func (s *Store) ListElections(ctx context.Context, f election.Filter) ([]election.Election, error) {
	rows, err := s.db.QueryContext(ctx, electionSelect+`
		where ($1::bigint = 0 or e.scope_id = $1) and ($2::bigint = 0 or e.organizer_account_id = $2)
		order by e.id
	`, f.ScopeID, f.OrganizerAccountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := s.clock()
	out := []election.Election{}
	for rows.Next() {
		e, err := scanElection(rows)
		if err != nil {
			return nil, err
		}
		if f.Match(e, now) {
			out = append(out, e)
		}
	}
	return out, rows.Err()
}

func (s *Store) UpdateDeadlines(ctx context.Context, id int64, d election.Deadlines) (election.Election, error) {
	d = d.Normalize()
	if err := election.ValidateDeadlines(d); err != nil {
		return election.Election{}, err
	}
	var out election.Election
	err := s.inTx(ctx, nil, func(tx *sql.Tx) error {
		e, err := getElection(ctx, tx, id, `for update of e`)
		if err != nil {
			return err
		}
		if e.StatusAt(s.clock()) == election.StatusClosed {
			return fault.ErrElectionClosed.At("election", id)
		}
		args := append([]any{id}, deadlineArgs(d)...)
		if _, err := tx.ExecContext(ctx, `
			update election_deadlines set
				voter_registration_deadline = $2, mail_in_ballot_deployment_date = $3,
				mail_in_ballot_return_opening = $4, mail_in_ballot_return_deadline = $5,
				mail_in_ballot_postmark_deadline = $6, early_in_person_voting_opening = $7,
				early_in_person_voting_deadline = $8, mobile_voting_opening = $9,
				mobile_voting_deadline = $10, online_voting_opening = $11,
				online_voting_deadline = $12, in_person_election_date = $13
			where election_id = $1
		`, args...); err != nil {
			return err
		}
		e.Deadlines = d
		out = e
		return nil
	})
	if err != nil {
		return election.Election{}, translate(err)
	}
	return out, nil
}

func (s *Store) CloseElection(ctx context.Context, id int64) (election.Election, error) {
	var out election.Election
	err := s.inTx(ctx, nil, func(tx *sql.Tx) error {
		e, err := getElection(ctx, tx, id, `for update of e`)
		if err != nil {
			return err
		}
		if !e.ClosedAt.IsZero() {
			return fault.ErrElectionClosed.At("election", id)
		}
		e.ClosedAt = s.clock()
		if _, err := tx.ExecContext(ctx, `update elections set closed_at = $2 where id = $1`, id, e.ClosedAt); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return election.Election{}, err
	}
	return out, nil
}

func (s *Store) GetStatus(ctx context.Context, id int64) (election.Status, error) {
	e, err := s.GetElection(ctx, id)
	if err != nil {
		return "", err
	}
	return e.StatusAt(s.clock()), nil
}

// openForChanges fails unless the election exists and is not closed.
func (s *Store) openForChanges(ctx context.Context, q querier, electionID int64) error {
	e, err := getElection(ctx, q, electionID, "")
	if errors.Is(err, fault.ErrNotFound) {
		return fault.ErrMissingReference.At("election", electionID)
	}
	if err != nil {
		return err
	}
	if e.StatusAt(s.clock()) == election.StatusClosed {
		return fault.ErrElectionClosed.At("election", electionID)
	}
	return nil
}
