// Package pg is the Postgres Repository. Uniqueness and referential rules
// live in the schema as named constraints; violations come back from the
// driver and are translated into faults here.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"civitas.org/internal/config"
	"civitas.org/internal/obs"
	"civitas.org/internal/store"
)

const serializableAttempts = 5

type Store struct {
	db  *sql.DB
	now func() time.Time
	log *slog.Logger
}

var _ store.Repository = (*Store)(nil)

type Option func(*Store)

// WithClock sets the time source used for status checks and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Open connects through the pgx stdlib driver and applies the pool limits.
// Zero pool settings keep the defaults from config.Default.
func Open(cfg config.PostgresConfig, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, err
	}
	def := config.Default().Postgres
	db.SetMaxOpenConns(orInt(cfg.MaxOpenConns, def.MaxOpenConns))
	db.SetMaxIdleConns(orInt(cfg.MaxIdleConns, def.MaxIdleConns))
	db.SetConnMaxLifetime(orDuration(cfg.ConnMaxLifetime, def.ConnMaxLifetime))
	db.SetConnMaxIdleTime(orDuration(cfg.ConnMaxIdleTime, def.ConnMaxIdleTime))
	return New(db, opts...), nil
}

// New wraps an existing handle.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now, log: obs.Logger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) clock() time.Time { return s.now().UTC() }

// inTx runs fn in a transaction and commits when it returns nil.
func (s *Store) inTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// serializable runs fn at serializable isolation, retrying serialization
// failures and deadlocks.
func (s *Store) serializable(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= serializableAttempts; attempt++ {
		err = s.inTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, fn)
		if !retryable(err) {
			return translate(err)
		}
		s.log.DebugContext(ctx, "serializable transaction retried", "attempt", attempt, "err", err)
	}
	return translate(err)
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func orInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func timeOf(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

func noRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
