package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/alert"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/config"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/logging"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/mq"
)

// alert-service relays alerts published with NOTIFIER=kafka to SendGrid.
func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("alert-service config error", logging.Err(err))
		return err
	}
	logger := logging.New("alert-service", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reader := mq.NewReader(cfg.KafkaBrokers, cfg.KafkaTopicAlerts, cfg.ConsumerGroupPrefix+"-alert-service")
	defer reader.Close()

	mailer := alert.NewSendGridNotifier(cfg.SendGridAPIKey, cfg.SenderEmail)
	r := &relay{
		reader:  reader,
		mailer:  mailer,
		timeout: cfg.NotifyTimeout,
		retry:   mq.RetryPolicy{Attempts: uint(cfg.AlertMaxRetries), Initial: time.Second, Max: 30 * time.Second},
		logger:  logger,
	}

	logger.Info("alert-service relaying", slog.String("topic", cfg.KafkaTopicAlerts))
	r.run(ctx)
	return nil
}
