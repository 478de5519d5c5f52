package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"civitas.org/internal/contest"
	"civitas.org/internal/fault"
	"civitas.org/internal/identity"
	"civitas.org/internal/ledger"
	"civitas.org/internal/tally"
)

var fixedNow = time.Date(2026, 11, 3, 10, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, WithClock(func() time.Time { return fixedNow })), mock
}

func TestTranslate(t *testing.T) {
	cases := []struct {
		code       string
		constraint string
		want       *fault.Error
	}{
		{pgErrUniqueViolation, "users_email_key", fault.ErrDuplicateIdentity},
		{pgErrUniqueViolation, "ballots_voter_election_live_key", fault.ErrDuplicateBallot},
		{pgErrUniqueViolation, "vote_claims_voter_poll_key", fault.ErrDuplicateVote},
		{pgErrUniqueViolation, "campaigns_poll_candidate_key", fault.ErrDuplicateCampaign},
		{pgErrUniqueViolation, "jurisdictions_parent_name_key", fault.ErrDuplicateJurisdiction},
		{pgErrUniqueViolation, "something_else_key", fault.ErrInvalidInput},
		{pgErrForeignKeyViolation, "ballots_voter_fkey", fault.ErrMissingReference},
		{pgErrCheckViolation, "election_deadlines_mail_return_check", fault.ErrInvalidDeadlineOrder},
		{pgErrCheckViolation, "ballots_locations_check", fault.ErrInvalidInput},
	}
	for _, tc := range cases {
		err := translate(&pgconn.PgError{Code: tc.code, ConstraintName: tc.constraint})
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s/%s: got %v, want %s", tc.code, tc.constraint, err, tc.want.Code)
		}
		var f *fault.Error
		if !errors.As(err, &f) || f.Constraint != tc.constraint {
			t.Fatalf("%s: constraint not carried: %v", tc.constraint, err)
		}
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) {
			t.Fatalf("%s: driver error not wrapped", tc.constraint)
		}
	}

	plain := errors.New("connection reset")
	if got := translate(plain); got != plain {
		t.Fatalf("non-driver errors must pass through, got %v", got)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("insert into users").
		WithArgs("Ada", "ada@example.org", "", "hash", fixedNow).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "users_email_key"})

	_, err := s.CreateUser(context.Background(), identity.User{Name: "Ada", Email: " ADA@example.org", PasswordHash: "hash"})
	if !errors.Is(err, fault.ErrDuplicateIdentity) {
		t.Fatalf("expected duplicate identity, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateUserStampsClock(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("insert into users").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	u, err := s.CreateUser(context.Background(), identity.User{Name: "Ada", Email: "ada@example.org"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID != 7 || !u.CreatedAt.Equal(fixedNow) || !u.UpdatedAt.Equal(fixedNow) {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestRegisterRollsBackOnProfileFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("insert into users").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery("insert into accounts").
		WithArgs(int64(7), identity.RoleVoter, fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectExec("insert into voter_profiles").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation, ConstraintName: "voter_profiles_party_id_fkey"})
	mock.ExpectRollback()

	_, _, err := s.Register(context.Background(),
		identity.User{Name: "Ada", Email: "ada@example.org", PasswordHash: "hash"},
		identity.VoterProfile{PartyID: 999})
	if !errors.Is(err, fault.ErrMissingReference) {
		t.Fatalf("expected missing reference, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestBallotTransitionsTranslateErrors(t *testing.T) {
	cases := []struct {
		name   string
		status string
		run    func(*Store) error
	}{
		{"finalize", "pending", func(s *Store) error {
			_, err := s.FinalizeBallot(context.Background(), 4)
			return err
		}},
		{"spoil", "cast", func(s *Store) error {
			_, err := s.SpoilBallot(context.Background(), 4, "torn")
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			mock.ExpectBegin()
			mock.ExpectQuery("from ballots where id").
				WithArgs(int64(4)).
				WillReturnRows(sqlmock.NewRows([]string{
					"id", "voter_id", "election_id", "polling_locations", "status",
					"spoil_reason", "issued_at", "cast_at", "spoiled_at",
				}).AddRow(int64(4), int64(2), int64(1), nil, tc.status, "", fixedNow, nil, nil))
			mock.ExpectExec("update ballots").
				WillReturnError(&pgconn.PgError{Code: pgErrCheckViolation, ConstraintName: "ballots_status_check"})
			mock.ExpectRollback()

			err := tc.run(s)
			if !errors.Is(err, fault.ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unmet expectations: %v", err)
			}
		})
	}
}

func TestSerializableRetriesConflicts(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	attempts := 0
	err := s.serializable(context.Background(), func(*sql.Tx) error {
		attempts++
		if attempts == 1 {
			return &pgconn.PgError{Code: pgErrSerializationFailure}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("serializable: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSerializableGivesUp(t *testing.T) {
	s, mock := newMockStore(t)
	for i := 0; i < serializableAttempts; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	attempts := 0
	err := s.serializable(context.Background(), func(*sql.Tx) error {
		attempts++
		return &pgconn.PgError{Code: pgErrDeadlockDetected}
	})
	if !retryable(err) {
		t.Fatalf("expected the last deadlock error, got %v", err)
	}
	if attempts != serializableAttempts {
		t.Fatalf("expected %d attempts, got %d", serializableAttempts, attempts)
	}
}

func TestSerializableTranslatesFinalError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.serializable(context.Background(), func(*sql.Tx) error {
		return &pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "vote_claims_voter_proposition_key"}
	})
	if !errors.Is(err, fault.ErrDuplicateVote) {
		t.Fatalf("expected duplicate vote, got %v", err)
	}
}

func TestCountPollVotesUnknownPoll(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("select exists").WithArgs(9).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := s.CountPollVotes(context.Background(), 9)
	if !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCountPollVotesIncludesEmptyCampaigns(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("select exists").WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("from campaigns c").WithArgs(1, string(ledger.BallotSpoiled)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "count"}).AddRow(1, 3).AddRow(2, 0))

	counts, err := s.CountPollVotes(context.Background(), 1)
	if err != nil {
		t.Fatalf("CountPollVotes: %v", err)
	}
	if len(counts) != 2 || counts[1] != 3 || counts[2] != 0 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestSaveResultRejectsForeignCampaign(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select id from polls").WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery("select poll_id from campaigns").WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"poll_id"}).AddRow(2))
	mock.ExpectRollback()

	err := s.SaveResult(context.Background(), tally.Result{PollID: 1, Tallies: map[int64]int64{5: 1}})
	if !errors.Is(err, fault.ErrForeignTarget) {
		t.Fatalf("expected foreign target, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSaveResultClearsWinnerOnTie(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select id from polls").WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery("select poll_id from campaigns").WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"poll_id"}).AddRow(1))
	mock.ExpectExec("update campaigns set votes").WithArgs(5, 2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from winners").WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.SaveResult(context.Background(), tally.Result{PollID: 1, Tallies: map[int64]int64{5: 2}}); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSavePropositionTallyUnknown(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("update propositions").WithArgs(4, 1, 2).WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.SavePropositionTally(context.Background(), tally.PropositionTally{PropositionID: 4, Yes: 1, No: 2})
	if !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListVotesReturnsCursor(t *testing.T) {
	s, mock := newMockStore(t)
	cols := []string{"id", "ballot_id", "voter_id", "poll_id", "campaign_id", "proposition_id", "choice", "cast_at"}
	mock.ExpectQuery("from votes v join ballots b").WithArgs(0, 3, 3).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(1, 3, 10, 1, 1, 0, "", fixedNow).
			AddRow(2, 3, 10, 0, 0, 1, "yes", fixedNow).
			AddRow(4, 3, 10, 2, 3, 0, "", fixedNow))

	votes, next, err := s.ListVotes(context.Background(), ledger.VoteQuery{BallotID: 3, Limit: 2})
	if err != nil {
		t.Fatalf("ListVotes: %v", err)
	}
	if len(votes) != 2 || next != 2 {
		t.Fatalf("expected 2 votes and cursor 2, got %d and %d", len(votes), next)
	}
	if !votes[1].Target.IsProposition() || votes[1].Choice != contest.ChoiceYes {
		t.Fatalf("unexpected second vote: %+v", votes[1])
	}
}

func TestGetWinnerMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("from winners").WithArgs(3).WillReturnError(sql.ErrNoRows)

	_, err := s.GetWinner(context.Background(), 3)
	if !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
