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

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/config"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/logging"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/mq"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/storage"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

// run owns every deferred close, so main exits only after they ran.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("ingest config error", logging.Err(err))
		return err
	}
	logger := logging.New("ingest", cfg.LogLevel)

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
	repo := storage.NewRepository(dbPool)

	writer := mq.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopicEvents)
	defer writer.Close()

	reader := mq.NewReader(cfg.KafkaBrokers, cfg.KafkaTopicEvents, cfg.ConsumerGroupPrefix+"-ingest")
	defer reader.Close()

	go consumeEvents(ctx, reader, repo, mq.DefaultRetryPolicy(), logger)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newRouter(writer, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("ingest listening", slog.String("addr", cfg.HTTPAddr), slog.String("topic", cfg.KafkaTopicEvents))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("ingest server error", logging.Err(err))
		return err
	}
	return nil
}
