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

	"github.com/spf13/cobra"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/config"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/health"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/logging"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/metrics"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/storage"
)

type flags struct {
	once   bool
	dryRun bool
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code once every deferred cleanup has run.
func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("monitor exited with error", logging.Err(err))
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	var f flags
	root := &cobra.Command{
		Use:           "monitor",
		Short:         "Route risk monitoring loop",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(cmd.Context(), f)
		},
	}
	root.PersistentFlags().BoolVar(&f.once, "once", false, "run a single cycle and exit")
	root.PersistentFlags().BoolVar(&f.dryRun, "dry-run", false, "compute decisions without sending alerts or persisting dispatch records")

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded SQL migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context())
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Run startup preflight checks and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHealth(cmd.Context())
		},
	})
	return root
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("monitor config error", logging.Err(err))
		return config.Config{}, nil, err
	}
	return cfg, logging.New("monitor", cfg.LogLevel), nil
}

func runMonitor(ctx context.Context, f flags) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("configuration", slog.Any("config", cfg.Redacted()))

	app, err := build(ctx, cfg, logger, f.dryRun)
	if err != nil {
		logger.Error("startup failed", logging.Err(err))
		return err
	}
	defer app.Close()

	if err := health.Run(ctx, cfg, app.checks()); err != nil {
		logger.Error("startup health failed", logging.Err(err))
		return err
	}
	if !f.dryRun {
		if _, err := storage.RunMigrations(ctx, app.pool); err != nil {
			logger.Error("migration error", logging.Err(err))
			return err
		}
	}

	if f.once {
		report, err := app.orchestrator.RunCycle(ctx)
		if err != nil {
			return err
		}
		if failed := report.Failed(); len(failed) > 0 {
			return fmt.Errorf("%d of %d routes failed", len(failed), len(report.Routes))
		}
		return nil
	}

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", logging.Err(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if !f.dryRun {
		go app.purgeExpired(ctx, cfg.ReasoningCacheTTL)
	}
	return app.orchestrator.Run(ctx)
}

func runMigrate(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	pool, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database error", logging.Err(err))
		return err
	}
	defer pool.Close()

	applied, err := storage.RunMigrations(ctx, pool)
	if err != nil {
		logger.Error("migration error", logging.Err(err))
		return err
	}
	logger.Info("migrations applied", slog.Any("files", applied))
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := build(ctx, cfg, logger, true)
	if err != nil {
		logger.Error("startup failed", logging.Err(err))
		return err
	}
	defer app.Close()

	if err := health.Run(ctx, cfg, app.checks()); err != nil {
		logger.Error("health checks failed", logging.Err(err))
		return err
	}
	logger.Info("startup checks passed")
	return nil
}
