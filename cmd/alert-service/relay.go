package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/alert"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/logging"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/mq"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

type relay struct {
	reader  messageReader
	mailer  alert.Notifier
	timeout time.Duration
	retry   mq.RetryPolicy
	logger  *slog.Logger
}

func (r *relay) run(ctx context.Context) {
	for {
		msg, err := r.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				r.logger.Info("alert-service shutting down")
				return
			}
			r.logger.Warn("alert read error", logging.Err(err))
			time.Sleep(500 * time.Millisecond)
			continue
		}
		_ = r.handle(ctx, msg)
	}
}

// handle delivers one relayed alert. The dispatch log already recorded the
// alert as sent when it was published, so transient mail failures are retried
// here under r.retry; what still fails is only logged.
func (r *relay) handle(ctx context.Context, msg kafka.Message) error {
	out, err := mq.ParseMessageJSON[alert.OutboundAlert](msg)
	if err != nil {
		r.logger.Warn("alert decode error", logging.Err(err))
		return err
	}
	attrs := []any{
		slog.String("message_id", out.MessageID),
		slog.String("alert_key", out.AlertKey),
		slog.String("recipient", out.Recipient),
	}

	var providerID string
	err = mq.HandleWithRetry(ctx, r.retry, func(ctx context.Context) error {
		sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		id, err := r.mailer.Send(sendCtx, out.Message)
		if errors.Is(err, alert.ErrNotConfigured) {
			return mq.Permanent(err)
		}
		providerID = id
		return err
	}, func(err error, wait time.Duration) {
		r.logger.Debug("alert relay retry", append(attrs, slog.Duration("wait", wait), logging.Err(err))...)
	})
	if err != nil {
		r.logger.Warn("alert relay failed", append(attrs, logging.Err(err))...)
		return err
	}
	r.logger.Info("alert relayed", append(attrs, slog.String("provider_message_id", providerID))...)
	return nil
}
