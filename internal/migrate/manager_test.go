package migrate

import (
	"context"
	"errors"
	"slices"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"0001_users.up.sql":      {Data: []byte("create table users (id bigint);\n")},
		"0001_users.down.sql":    {Data: []byte("drop table users;")},
		"0002_ballots.up.sql":    {Data: []byte("-- ballots; one per voter\ncreate table ballots (id bigint);\ncreate index ballots_idx on ballots (id);")},
		"0002_ballots.down.sql":  {Data: []byte("drop table ballots;")},
		"README.md":              {Data: []byte("not sql")},
		"seeds/0001_parties.sql": {Data: []byte("insert into parties (name) values ('Independent; unaffiliated');")},
	}
}

func expectTables(mock sqlmock.Sqlmock) {
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesOnlyPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_users.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(`create table ballots \(id bigint\)`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`create index ballots_idx`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_ballots.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	n, err := NewManager(db, testFS(), ".", "seeds").Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 migration applied, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpRollsBackFailedMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("create table users").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	n, err := NewManager(db, testFS(), ".", "").Up(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if n != 0 {
		t.Fatalf("expected nothing applied, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRollsBackLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	expectTables(mock)
	mock.ExpectQuery("select name, applied_at from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name", "applied_at"}).
			AddRow("0001_users.up.sql", at).
			AddRow("0002_ballots.up.sql", at.Add(time.Second)))
	mock.ExpectBegin()
	mock.ExpectExec("drop table ballots").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from schema_migrations where name").
		WithArgs("0002_ballots.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	name, err := NewManager(db, testFS(), ".", "").Down(context.Background())
	if err != nil {
		t.Fatalf("Down: %v", err)
	}
	if name != "0002_ballots.up.sql" {
		t.Fatalf("rolled back %q", name)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownWithEmptyHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectTables(mock)
	mock.ExpectQuery("select name, applied_at from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name", "applied_at"}))

	_, err = NewManager(db, testFS(), ".", "").Down(context.Background())
	if !errors.Is(err, ErrNothingToRollback) {
		t.Fatalf("expected ErrNothingToRollback, got %v", err)
	}
}

func TestSeedSkipsDownFiles(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectTables(mock)
	mock.ExpectQuery("select name from schema_seeds").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("insert into parties").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into schema_seeds").
		WithArgs("0001_parties.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	n, err := NewManager(db, testFS(), ".", "seeds").Seed(context.Background())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 seed, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCollectSQL(t *testing.T) {
	files, err := collectSQL(testFS(), ".", ".up.sql")
	if err != nil {
		t.Fatalf("collectSQL: %v", err)
	}
	var names []string
	for _, f := range files {
		names = append(names, f.Base)
	}
	if !slices.Equal(names, []string{"0001_users.up.sql", "0002_ballots.up.sql"}) {
		t.Fatalf("unexpected files: %v", names)
	}

	missing, err := collectSQL(testFS(), "nowhere", ".sql")
	if err != nil || missing != nil {
		t.Fatalf("missing dir should be empty, got %v, %v", missing, err)
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements(`
-- leading comment; with a semicolon
insert into t values ('a;b');
create table x (id int); -- trailing
select 1`)
	want := []string{
		"insert into t values ('a;b')",
		"create table x (id int)",
		"select 1",
	}
	if !slices.Equal(got, want) {
		t.Fatalf("splitStatements = %q", got)
	}
}
