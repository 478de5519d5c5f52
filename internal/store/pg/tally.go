package pg

import (
	"context"
	"database/sql"

	"civitas.org/internal/contest"
	"civitas.org/internal/fault"
	"civitas.org/internal/ledger"
	"civitas.org/internal/tally"
)

// Counts below read only votes whose ballot has not been spoiled.

func (s *Store) CountCampaignVotes(ctx context.Context, campaignID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		select count(*)
		from votes v join ballots b on b.id = v.ballot_id
		where v.campaign_id = $1 and b.status <> $2
	`, campaignID, ledger.BallotSpoiled).Scan(&n)
	return n, err
}

func (s *Store) CountPollVotes(ctx context.Context, pollID int64) (map[int64]int64, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists (select 1 from polls where id = $1)`, pollID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fault.ErrNotFound.At("poll", pollID)
	}
	rows, err := s.db.QueryContext(ctx, `
		select c.id, count(b.id)
		from campaigns c
		left join votes v on v.campaign_id = c.id
		left join ballots b on b.id = v.ballot_id and b.status <> $2
		where c.poll_id = $1
		group by c.id
	`, pollID, ledger.BallotSpoiled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[int64]int64{}
	for rows.Next() {
		var id, n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

func (s *Store) CountPropositionVotes(ctx context.Context, propositionID int64) (tally.PropositionTally, error) {
	t := tally.PropositionTally{PropositionID: propositionID}
	err := s.db.QueryRowContext(ctx, `
		select count(*) filter (where v.choice = $2), count(*) filter (where v.choice = $3)
		from votes v join ballots b on b.id = v.ballot_id
		where v.proposition_id = $1 and b.status <> $4
	`, propositionID, contest.ChoiceYes, contest.ChoiceNo, ledger.BallotSpoiled).Scan(&t.Yes, &t.No)
	return t, err
}

func (s *Store) SaveResult(ctx context.Context, r tally.Result) error {
	return s.inTx(ctx, nil, func(tx *sql.Tx) error {
		var locked int64
		err := tx.QueryRowContext(ctx, `select id from polls where id = $1 for update`, r.PollID).Scan(&locked)
		if noRows(err) {
			return fault.ErrNotFound.At("poll", r.PollID)
		}
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(r.Tallies)+1)
		for id := range r.Tallies {
			ids = append(ids, id)
		}
		if r.Winner != nil {
			ids = append(ids, r.Winner.CampaignID)
		}
		for _, id := range ids {
			if err := campaignInPoll(ctx, tx, id, r.PollID); err != nil {
				return err
			}
		}
		for id, n := range r.Tallies {
			if _, err := tx.ExecContext(ctx, `update campaigns set votes = $2 where id = $1`, id, n); err != nil {
				return err
			}
		}
		if r.Winner == nil {
			_, err = tx.ExecContext(ctx, `delete from winners where poll_id = $1`, r.PollID)
			return err
		}
		_, err = tx.ExecContext(ctx, `
			insert into winners (poll_id, campaign_id, votes_received, computed_at)
			values ($1, $2, $3, $4)
			on conflict (poll_id) do update
			set campaign_id = excluded.campaign_id,
				votes_received = excluded.votes_received,
				computed_at = excluded.computed_at
		`, r.PollID, r.Winner.CampaignID, r.Winner.VotesReceived, s.clock())
		return err
	})
}

func campaignInPoll(ctx context.Context, q querier, campaignID, pollID int64) error {
	var owner int64
	err := q.QueryRowContext(ctx, `select poll_id from campaigns where id = $1`, campaignID).Scan(&owner)
	if err != nil && !noRows(err) {
		return err
	}
	if owner != pollID {
		return fault.ErrForeignTarget.At("campaign", campaignID).Withf("not in poll %d", pollID)
	}
	return nil
}

func (s *Store) SavePropositionTally(ctx context.Context, t tally.PropositionTally) error {
	res, err := s.db.ExecContext(ctx, `
		update propositions set yes_votes = $2, no_votes = $3 where id = $1
	`, t.PropositionID, t.Yes, t.No)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fault.ErrNotFound.At("proposition", t.PropositionID)
	}
	return nil
}

func (s *Store) GetWinner(ctx context.Context, pollID int64) (tally.Winner, error) {
	w := tally.Winner{PollID: pollID}
	err := s.db.QueryRowContext(ctx, `
		select campaign_id, votes_received from winners where poll_id = $1
	`, pollID).Scan(&w.CampaignID, &w.VotesReceived)
	if noRows(err) {
		return tally.Winner{}, fault.ErrNotFound.At("winner", pollID)
	}
	if err != nil {
		return tally.Winner{}, err
	}
	return w, nil
}
