package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/contracts"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/logging"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/mq"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

type eventStore interface {
	InsertRiskEvent(ctx context.Context, event contracts.RiskEvent) error
}

// consumeEvents persists validated events until ctx ends. Malformed messages
// are dropped at once; store failures are retried under policy before the
// event is dropped, since the group offset commits either way.
func consumeEvents(ctx context.Context, reader messageReader, store eventStore, policy mq.RetryPolicy, logger *slog.Logger) {
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				logger.Info("event consumer shutting down")
				return
			}
			logger.Warn("event read error", logging.Err(err))
			time.Sleep(500 * time.Millisecond)
			continue
		}

		event, err := decodeEvent(msg)
		if err != nil {
			logger.Warn("event dropped", slog.String("key", string(msg.Key)), logging.Err(err))
			continue
		}

		err = mq.HandleWithRetry(ctx, policy, func(ctx context.Context) error {
			return store.InsertRiskEvent(ctx, event)
		}, func(err error, wait time.Duration) {
			logger.Debug("event insert retry",
				slog.String("event_id", event.ID),
				slog.Duration("wait", wait),
				logging.Err(err))
		})
		if err != nil {
			logger.Error("event dropped after retries",
				slog.String("event_id", event.ID),
				slog.String("route", event.Route),
				logging.Err(err))
		}
	}
}

func decodeEvent(msg kafka.Message) (contracts.RiskEvent, error) {
	event, err := mq.ParseMessageJSON[contracts.RiskEvent](msg)
	if err != nil {
		return contracts.RiskEvent{}, err
	}
	if event.EventTime.IsZero() {
		event.EventTime = msg.Time.UTC()
	}
	if err := event.Validate(); err != nil {
		return contracts.RiskEvent{}, err
	}
	return event, nil
}
