package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"civitas.org/internal/config"
	"civitas.org/internal/migrate"
	"civitas.org/internal/obs"
	"civitas.org/migrations"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		dsn     string
		cfgPath string
		timeout time.Duration
	)

	withManager := func(fn func(ctx context.Context, m *migrate.Manager) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if dsn == "" {
				dsn = cfg.Postgres.DSN
			}
			if dsn == "" {
				return errors.New("missing DSN: provide --dsn or CIVITAS_PG_DSN")
			}
			obs.SetLogger(obs.NewLogger(os.Stderr, obs.ParseLevel(cfg.Log.Level)))

			db, err := sql.Open("pgx", dsn)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return fn(ctx, migrate.NewManager(db, migrations.FS, ".", "seeds"))
		}
	}

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply civitas schema migrations and seeds",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (defaults to CIVITAS_PG_DSN)")
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "optional YAML config file")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall timeout")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
				n, err := m.Up(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("applied %d migration(s)\n", n)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
				name, err := m.Down(ctx)
				if errors.Is(err, migrate.ErrNothingToRollback) {
					fmt.Println("nothing to roll back")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Printf("rolled back %s\n", name)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Load reference data seeds",
			RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
				n, err := m.Seed(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("applied %d seed(s)\n", n)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied migrations",
			RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
				history, err := m.Status(ctx)
				if err != nil {
					return err
				}
				for _, a := range history {
					fmt.Printf("%s\t%s\n", a.AppliedAt.UTC().Format(time.RFC3339), a.Name)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "pending",
			Short: "List migrations not yet applied",
			RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
				pending, err := m.Pending(ctx)
				if err != nil {
					return err
				}
				for _, name := range pending {
					fmt.Println(name)
				}
				return nil
			}),
		},
	)
	return root
}
