package pg

import (
	"context"
	"database/sql"

	"civitas.org/internal/contest"
	"civitas.org/internal/fault"
)

func (s *Store) CreateParty(ctx context.Context, p contest.Party) (contest.Party, error) {
	p, err := contest.PrepareParty(p)
	if err != nil {
		return contest.Party{}, err
	}
	err = s.db.QueryRowContext(ctx, `
		insert into parties (name, overview) values ($1, $2) returning id
	`, p.Name, p.Overview).Scan(&p.ID)
	if err != nil {
		return contest.Party{}, translate(err)
	}
	return p, nil
}

func (s *Store) CreateCandidate(ctx context.Context, c contest.Candidate) (contest.Candidate, error) {
	c, err := contest.PrepareCandidate(c)
	if err != nil {
		return contest.Candidate{}, err
	}
	k := c.Contact
	err = s.db.QueryRowContext(ctx, `
		insert into candidates (name, type, state, county, party_id,
			email, phone, website, twitter, facebook, instagram, photo)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		returning id
	`, c.Name, c.Type, c.State, c.County, nullInt(c.PartyID),
		k.Email, k.Phone, k.Website, k.Twitter, k.Facebook, k.Instagram, k.Photo).Scan(&c.ID)
	if err != nil {
		return contest.Candidate{}, translate(err)
	}
	return c, nil
}

func (s *Store) CreateRepresentative(ctx context.Context, r contest.Representative) (contest.Representative, error) {
	r, err := contest.PrepareRepresentative(r)
	if err != nil {
		return contest.Representative{}, err
	}
	k := r.Contact
	err = s.db.QueryRowContext(ctx, `
		insert into representatives (name, type, position, state, county, party_id,
			email, phone, website, twitter, facebook, instagram, photo)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		returning id
	`, r.Name, r.Type, r.Position, r.State, r.County, nullInt(r.PartyID),
		k.Email, k.Phone, k.Website, k.Twitter, k.Facebook, k.Instagram, k.Photo).Scan(&r.ID)
	if err != nil {
		return contest.Representative{}, translate(err)
	}
	return r, nil
}

func (s *Store) CreateTerm(ctx context.Context, t contest.Term) (contest.Term, error) {
	t, err := contest.PrepareTerm(t)
	if err != nil {
		return contest.Term{}, err
	}
	err = s.db.QueryRowContext(ctx, `
		insert into terms (representative_id, name, type, start_date, end_date, length)
		values ($1, $2, $3, $4, $5, $6)
		returning id
	`, t.RepresentativeID, t.Name, t.Type, nullTime(t.Start), nullTime(t.End), t.Length).Scan(&t.ID)
	if err != nil {
		return contest.Term{}, translate(err)
	}
	return t, nil
}

func (s *Store) CreateBill(ctx context.Context, b contest.Bill) (contest.Bill, error) {
	b, err := contest.PrepareBill(b)
	if err != nil {
		return contest.Bill{}, err
	}
	err = s.db.QueryRowContext(ctx, `
		insert into bills (name, code, category, type, overview, text, state, county)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning id
	`, b.Name, b.Code, b.Category, b.Type, b.Overview, b.Text, b.State, b.County).Scan(&b.ID)
	if err != nil {
		return contest.Bill{}, translate(err)
	}
	return b, nil
}

func (s *Store) AddPoll(ctx context.Context, electionID int64, spec contest.PollSpec) (contest.Poll, error) {
	spec, err := contest.PreparePoll(spec)
	if err != nil {
		return contest.Poll{}, err
	}
	p := contest.Poll{ElectionID: electionID, Position: spec.Position, PositionType: spec.PositionType, TermID: spec.TermID}
	err = s.inTx(ctx, nil, func(tx *sql.Tx) error {
		if err := s.openForChanges(ctx, tx, electionID); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `
			insert into polls (election_id, position, position_type, term_id)
			values ($1, $2, $3, $4)
			returning id
		`, electionID, p.Position, p.PositionType, nullInt(p.TermID)).Scan(&p.ID)
	})
	if err != nil {
		return contest.Poll{}, translate(err)
	}
	return p, nil
}

func (s *Store) AddCampaign(ctx context.Context, pollID int64, runner contest.Runner, statement string) (contest.Campaign, error) {
	if err := runner.Validate(); err != nil {
		return contest.Campaign{}, err
	}
	c := contest.Campaign{PollID: pollID, Runner: runner, Statement: statement}
	err := s.inTx(ctx, nil, func(tx *sql.Tx) error {
		var electionID int64
		err := tx.QueryRowContext(ctx, `select election_id from polls where id = $1`, pollID).Scan(&electionID)
		if noRows(err) {
			return fault.ErrMissingReference.At("poll", pollID)
		}
		if err != nil {
			return err
		}
		if err := s.openForChanges(ctx, tx, electionID); err != nil {
			return err
		}
		candidateID, representativeID := runnerColumns(runner)
		err = tx.QueryRowContext(ctx, `
			insert into campaigns (poll_id, runner_kind, candidate_id, representative_id, statement)
			values ($1, $2, $3, $4, $5)
			returning id
		`, pollID, runner.Kind, candidateID, representativeID, statement).Scan(&c.ID)
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return fault.ErrMissingReference.At(string(runner.Kind), runner.ID).On(pgErr.ConstraintName)
		}
		return err
	})
	if err != nil {
		return contest.Campaign{}, translate(err)
	}
	return c, nil
}

func runnerColumns(r contest.Runner) (candidateID, representativeID sql.NullInt64) {
	if r.Kind == contest.RunnerCandidate {
		return nullInt(r.ID), sql.NullInt64{}
	}
	return sql.NullInt64{}, nullInt(r.ID)
}

func (s *Store) AddProposition(ctx context.Context, electionID, billID int64) (contest.Proposition, error) {
	p := contest.Proposition{ElectionID: electionID, BillID: billID}
	err := s.inTx(ctx, nil, func(tx *sql.Tx) error {
		if err := s.openForChanges(ctx, tx, electionID); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `
			insert into propositions (election_id, bill_id) values ($1, $2) returning id
		`, electionID, billID).Scan(&p.ID)
	})
	if err != nil {
		return contest.Proposition{}, translate(err)
	}
	return p, nil
}

func (s *Store) UpdateCampaignStatement(ctx context.Context, campaignID int64, statement string) (contest.Campaign, error) {
	var out contest.Campaign
	err := s.inTx(ctx, nil, func(tx *sql.Tx) error {
		c, err := scanCampaign(tx.QueryRowContext(ctx, `select `+campaignColumns+` from campaigns where id = $1 for update`, campaignID))
		if noRows(err) {
			return fault.ErrNotFound.At("campaign", campaignID)
		}
		if err != nil {
			return err
		}
		var locked bool
		if err := tx.QueryRowContext(ctx, `select exists (select 1 from votes where campaign_id = $1)`, campaignID).Scan(&locked); err != nil {
			return err
		}
		if locked {
			return fault.ErrContestLocked.At("campaign", campaignID)
		}
		var electionID int64
		if err := tx.QueryRowContext(ctx, `select election_id from polls where id = $1`, c.PollID).Scan(&electionID); err != nil {
			return err
		}
		if err := s.openForChanges(ctx, tx, electionID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `update campaigns set statement = $2 where id = $1`, campaignID, statement); err != nil {
			return err
		}
		c.Statement = statement
		out = c
		return nil
	})
	if err != nil {
		return contest.Campaign{}, err
	}
	return out, nil
}

func (s *Store) GetPoll(ctx context.Context, id int64) (contest.Poll, error) {
	p, err := scanPoll(s.db.QueryRowContext(ctx, `select `+pollColumns+` from polls where id = $1`, id))
	if noRows(err) {
		return contest.Poll{}, fault.ErrNotFound.At("poll", id)
	}
	return p, err
}

func (s *Store) GetCampaign(ctx context.Context, id int64) (contest.Campaign, error) {
	c, err := scanCampaign(s.db.QueryRowContext(ctx, `select `+campaignColumns+` from campaigns where id = $1`, id))
	if noRows(err) {
		return contest.Campaign{}, fault.ErrNotFound.At("campaign", id)
	}
	return c, err
}

func (s *Store) GetProposition(ctx context.Context, id int64) (contest.Proposition, error) {
	p, err := scanProposition(s.db.QueryRowContext(ctx, `select `+propositionColumns+` from propositions where id = $1`, id))
	if noRows(err) {
		return contest.Proposition{}, fault.ErrNotFound.At("proposition", id)
	}
	return p, err
}

func (s *Store) ListPolls(ctx context.Context, electionID int64) ([]contest.Poll, error) {
	return list(ctx, s.db, scanPoll, `select `+pollColumns+` from polls where election_id = $1 order by id`, electionID)
}

func (s *Store) ListCampaigns(ctx context.Context, pollID int64) ([]contest.Campaign, error) {
	return list(ctx, s.db, scanCampaign, `select `+campaignColumns+` from campaigns where poll_id = $1 order by id`, pollID)
}

func (s *Store) ListPropositions(ctx context.Context, electionID int64) ([]contest.Proposition, error) {
	return list(ctx, s.db, scanProposition, `select `+propositionColumns+` from propositions where election_id = $1 order by id`, electionID)
}

const (
	pollColumns        = `id, election_id, position, position_type, coalesce(term_id, 0)`
	campaignColumns    = `id, poll_id, runner_kind, coalesce(candidate_id, representative_id), statement, votes`
	propositionColumns = `id, election_id, bill_id, yes_votes, no_votes`
)

func scanPoll(row rowScanner) (contest.Poll, error) {
	var p contest.Poll
	err := row.Scan(&p.ID, &p.ElectionID, &p.Position, &p.PositionType, &p.TermID)
	return p, err
}

func scanCampaign(row rowScanner) (contest.Campaign, error) {
	var c contest.Campaign
	err := row.Scan(&c.ID, &c.PollID, &c.Runner.Kind, &c.Runner.ID, &c.Statement, &c.Votes)
	return c, err
}

func scanProposition(row rowScanner) (contest.Proposition, error) {
	var p contest.Proposition
	err := row.Scan(&p.ID, &p.ElectionID, &p.BillID, &p.YesVotes, &p.NoVotes)
	return p, err
}

type lister interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// list runs query and scans every row with scan. It never returns a nil slice.
func list[T any](ctx context.Context, db lister, scan func(rowScanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
