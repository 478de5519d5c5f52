package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"civitas.org/internal/config"
	"civitas.org/internal/httpapi"
	"civitas.org/internal/obs"
	"civitas.org/internal/store/pg"
	"civitas.org/internal/tally"
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
		cfgPath string
		addr    string
		once    bool
	)
	cmd := &cobra.Command{
		Use:          "tallyd",
		Short:        "Recompute tallies and winners of closed elections",
		Long:         `tallyd sweeps every closed election on an interval, recomputing poll winners and proposition counts, and serves health and metrics endpoints.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			return run(cmd.Context(), cfg, once)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "optional YAML config file")
	cmd.Flags().StringVar(&addr, "addr", "", "ops HTTP listen address (overrides http.addr)")
	cmd.Flags().BoolVar(&once, "once", false, "run a single sweep and exit")
	return cmd
}

func run(ctx context.Context, cfg config.Config, once bool) error {
	log := obs.NewLogger(os.Stdout, obs.ParseLevel(cfg.Log.Level)).With("service", "tallyd")
	obs.SetLogger(log)

	if cfg.Postgres.DSN == "" {
		return errors.New("missing DSN: set postgres.dsn or CIVITAS_PG_DSN")
	}
	store, err := pg.Open(cfg.Postgres, pg.WithLogger(log))
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := obs.RegisterBuildInfo(reg); err != nil {
		return err
	}
	metrics := obs.NewMetrics(reg)

	checks := []httpapi.Check{{Name: "postgres", Fn: store.Ping}}
	opts := []tally.Option{
		tally.WithConcurrency(cfg.Tally.Concurrency),
		tally.WithRateLimit(cfg.Tally.Rate, cfg.Tally.Burst),
		tally.WithLogger(log),
		tally.WithMetrics(metrics),
	}
	if cfg.Redis.URL != "" {
		client, err := newRedis(cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		opts = append(opts, tally.WithLocker(tally.NewRedisLocker(client, ""), cfg.Tally.LockTTL))
		checks = append(checks, httpapi.Check{Name: "redis", Fn: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}})
	}
	engine := tally.NewEngine(store, opts...)

	if once {
		reports, err := engine.Sweep(ctx)
		logSweep(ctx, log, reports, err)
		if err != nil {
			return err
		}
		for _, r := range reports {
			if !r.OK() {
				return fmt.Errorf("election %d: %d contest(s) failed", r.ElectionID, r.Failures())
			}
		}
		return nil
	}

	api := httpapi.New("tallyd", httpapi.ReadyProbe{Checks: checks, Timeout: 2 * time.Second},
		httpapi.WithMetrics(metrics, reg))
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "ops server listening", "addr", srv.Addr, "version", obs.Version)
		return httpapi.Serve(gctx, srv, cfg.HTTP.ShutdownTimeout)
	})
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Tally.Interval)
		defer ticker.Stop()
		for {
			reports, err := engine.Sweep(gctx)
			logSweep(gctx, log, reports, err)
			api.RecordSweep(httpapi.Summarize(reports, err, time.Now()))
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
	err = g.Wait()
	log.Info("tallyd stopped")
	return err
}

func newRedis(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return redis.NewClient(opts), nil
}

func logSweep(ctx context.Context, log *slog.Logger, reports []tally.Report, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		log.ErrorContext(ctx, "sweep failed", "err", err, "elections", len(reports))
		return
	}
	s := httpapi.Summarize(reports, nil, time.Now())
	log.InfoContext(ctx, "sweep finished",
		"elections", s.Elections, "winners", s.Winners, "ties", s.Ties, "empty", s.Empty, "failed", s.Failed)
}
