package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/alert"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/cache"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/config"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/gate"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/health"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/logging"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/monitor"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/mq"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/reasoning"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/risk"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/storage"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/stream"
)

type app struct {
	pool         *pgxpool.Pool
	repo         *storage.Repository
	redis        *redis.Client
	backend      reasoning.Backend
	writers      []*kafka.Writer
	orchestrator *monitor.Orchestrator
	logger       *slog.Logger
}

func build(ctx context.Context, cfg config.Config, logger *slog.Logger, dryRun bool) (*app, error) {
	a := &app{logger: logger}

	pool, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	a.repo = storage.NewRepository(pool)

	if cfg.RedisURL != "" {
		a.redis, err = cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	var store gate.CacheStore = a.repo
	if cfg.CacheBackend == config.CacheBackendRedis {
		store = cache.NewRedisStore(a.redis)
	}

	a.backend, err = reasoning.New(cfg.LLMProvider, reasoning.Options{
		OllamaBaseURL: cfg.OllamaBaseURL,
		OllamaModel:   cfg.OllamaModel,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIModel:   cfg.OpenAIModel,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	controller := gate.NewController(a.backend, store, gateOptions(cfg, dryRun), gate.WithLogger(logger))

	notifier, err := a.notifier(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	dispatcher := alert.NewDispatcher(a.repo, notifier, dispatcherOptions(cfg, dryRun), alert.WithLogger(logger))

	decisions := mq.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopicDecisions)
	a.writers = append(a.writers, decisions)
	publishers := []monitor.DecisionPublisher{monitor.NewKafkaPublisher(decisions)}
	if a.redis != nil {
		publishers = append(publishers, stream.NewPublisher(a.redis))
	}

	a.orchestrator = monitor.NewOrchestrator(
		a.repo,
		risk.NewEngine(cfg.EventHalfLife),
		controller,
		dispatcher,
		orchestratorOptions(cfg, dryRun),
		monitor.WithLogger(logger),
		monitor.WithPublishers(publishers...),
	)
	return a, nil
}

func (a *app) notifier(cfg config.Config) (alert.Notifier, error) {
	switch cfg.Notifier {
	case config.NotifierSendGrid:
		if cfg.SendGridAPIKey == "" || cfg.SenderEmail == "" {
			a.logger.Warn("sendgrid not configured, deliveries will be recorded as failed")
		}
		return alert.NewSendGridNotifier(cfg.SendGridAPIKey, cfg.SenderEmail), nil
	case config.NotifierKafka:
		w := mq.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopicAlerts)
		a.writers = append(a.writers, w)
		return alert.NewKafkaNotifier(w), nil
	default:
		return nil, fmt.Errorf("unknown notifier %q", cfg.Notifier)
	}
}

func (a *app) checks() health.Checks {
	checks := health.Checks{Database: a.repo.Ping}
	if a.redis != nil {
		checks.Cache = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	if c, ok := a.backend.(reasoning.Checker); ok {
		checks.Backend = c
	}
	return checks
}

// purgeExpired drops dead reasoning cache rows once per TTL.
func (a *app) purgeExpired(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.repo.PurgeExpiredReasoning(ctx, time.Now().UTC())
			if err != nil {
				a.logger.Warn("reasoning cache purge failed", logging.Err(err))
				continue
			}
			if n > 0 {
				a.logger.Info("reasoning cache purged", slog.Int64("rows", n))
			}
		}
	}
}

func (a *app) Close() {
	for _, w := range a.writers {
		_ = w.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func gateOptions(cfg config.Config, dryRun bool) gate.Options {
	return gate.Options{
		Threshold:        cfg.LLMTriggerScore,
		TTL:              cfg.ReasoningCacheTTL,
		ScoreBucketWidth: cfg.ScoreBucketWidth,
		MaxRetries:       cfg.ReasoningRetries,
		AttemptTimeout:   cfg.ReasoningTimeout,
		Buckets:          risk.BucketPolicy{Medium: cfg.BucketMedium, High: cfg.BucketHigh, Critical: cfg.BucketCritical},
		Costs:            risk.DefaultCostAssumptions(),
		DryRun:           dryRun,
	}
}

func dispatcherOptions(cfg config.Config, dryRun bool) alert.Options {
	return alert.Options{
		Recipients:     cfg.AlertRecipients,
		DedupWindow:    cfg.AlertDedupWindow,
		MaxAttempts:    cfg.AlertMaxRetries,
		RetryLookback:  cfg.RetryLookback,
		RetryBatchSize: cfg.RetryBatchSize,
		RetryLease:     cfg.RetryLease,
		MinBucket:      cfg.AlertMinBucket,
		SendTimeout:    cfg.NotifyTimeout,
		RatePerSecond:  cfg.NotifyRatePerSec,
		DryRun:         dryRun,
	}
}

func orchestratorOptions(cfg config.Config, dryRun bool) monitor.Options {
	return monitor.Options{
		Routes:       cfg.MonitorRoutes,
		Interval:     cfg.MonitorInterval,
		EventWindow:  cfg.EventWindow,
		FetchTimeout: cfg.EventFetchTimeout,
		Concurrency:  cfg.RouteConcurrency,
		MaxOverlap:   cfg.MaxOverlap,
		DryRun:       dryRun,
	}
}
