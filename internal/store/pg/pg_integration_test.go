//go:build integration

package pg_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"civitas.org/internal/migrate"
	"civitas.org/internal/store"
	"civitas.org/internal/store/pg"
	"civitas.org/internal/store/storetest"
	"civitas.org/migrations"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("civitas"),
		postgres.WithUsername("civitas"),
		postgres.WithPassword("civitas"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()
	applied, err := migrate.NewManager(db, migrations.FS, ".", "seeds").Up(ctx)
	require.NoError(t, err)
	require.NotZero(t, applied)
	return dsn
}

func TestPostgresConformance(t *testing.T) {
	dsn := startPostgres(t)

	storetest.Run(t, func(t *testing.T, now func() time.Time) store.Repository {
		db, err := sql.Open("pgx", dsn)
		require.NoError(t, err)
		_, err = db.Exec(`truncate users, jurisdictions, parties, bills restart identity cascade`)
		require.NoError(t, err)
		return pg.New(db, pg.WithClock(now))
	})
}

func TestSeedsLoadOnce(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(t)
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()

	m := migrate.NewManager(db, migrations.FS, ".", "seeds")
	n, err := m.Seed(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	n, err = m.Seed(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}
