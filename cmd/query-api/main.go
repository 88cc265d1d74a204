package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/cache"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/config"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/logging"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/storage"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("query-api config error", logging.Err(err))
		return err
	}
	logger := logging.New("query-api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database error", logging.Err(err))
		return err
	}
	defer dbPool.Close()

	if _, err := storage.RunMigrations(ctx, dbPool); err != nil {
		logger.Error("migration error", logging.Err(err))
		return err
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("redis error", logging.Err(err))
			return err
		}
		defer rdb.Close()
	} else {
		logger.Warn("REDIS_URL not set, live decision stream disabled")
	}

	api := &api{repo: storage.NewRepository(dbPool), maxAttempts: cfg.AlertMaxRetries, logger: logger}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.routes(rdb),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("query-api listening", slog.String("addr", cfg.HTTPAddr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("query-api server error", logging.Err(err))
		return err
	}
	return nil
}
