package alert

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/contracts"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/logging"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/metrics"
)

// Outcome is how one recipient's alert ended. Skips and exhaustion are
// outcomes, not errors.
type Outcome string

const (
	OutcomeSent             Outcome = "sent"
	OutcomeFailed           Outcome = "failed"
	OutcomeDuplicateSkipped Outcome = "duplicate_skipped"
	OutcomeRetryPending     Outcome = "retry_pending"
	OutcomePolicySkipped    Outcome = "policy_skipped"
	OutcomeDryRun           Outcome = "dry_run"
	OutcomeRetryExhausted   Outcome = "retry_exhausted"
	OutcomeRetryLost        Outcome = "retry_lost"
)

// Log is the dispatch log. ClaimDispatch must be atomic per alert key and,
// when it loses, return the record that blocked it (see
// contracts.DispatchRecord.Blocks). BlockingDispatch is the read-only check.
type Log interface {
	ClaimDispatch(ctx context.Context, rec contracts.DispatchRecord, maxAttempts int) (contracts.DispatchRecord, bool, error)
	BlockingDispatch(ctx context.Context, alertKey string, maxAttempts int) (contracts.DispatchRecord, bool, error)
	CompleteDispatch(ctx context.Context, id int64, attempt int, status contracts.DispatchStatus, messageID, errMsg *string) error
	RetryCandidates(ctx context.Context, since, now time.Time, maxAttempts, limit int) ([]contracts.DispatchRecord, error)
	ClaimRetry(ctx context.Context, id int64, expectedAttempt, maxAttempts int, now, leaseUntil time.Time) (bool, error)
}

type Options struct {
	Recipients     []string
	DedupWindow    time.Duration
	MaxAttempts    int
	RetryLookback  time.Duration
	RetryBatchSize int
	RetryLease     time.Duration
	MinBucket      contracts.RiskBucket
	SendTimeout    time.Duration
	RatePerSecond  float64
	DryRun         bool
}

type Result struct {
	Recipient string
	AlertKey  string
	Outcome   Outcome
	Attempt   int
	MessageID string
	Err       error
}

type Dispatcher struct {
	log      Log
	notifier Notifier
	opts     Options
	limiter  *rate.Limiter
	sweeping *semaphore.Weighted
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Dispatcher)

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

func NewDispatcher(log Log, notifier Notifier, opts Options, options ...Option) *Dispatcher {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 6 * time.Hour
	}
	if opts.RetryLease <= 0 {
		opts.RetryLease = 5 * time.Minute
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	d := &Dispatcher{
		log:      log,
		notifier: notifier,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, 1),
		sweeping: semaphore.NewWeighted(1),
		logger:   logging.Discard(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range options {
		o(d)
	}
	return d
}

// AlertKey fingerprints one alert condition for one recipient inside one
// dedup window.
func AlertKey(route string, bucket contracts.RiskBucket, windowStart time.Time, recipient string) string {
	seed := fmt.Sprintf("%s|%s|%d|%s", route, bucket, windowStart.UTC().Unix(), recipient)
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// WindowStart aligns t to the start of its dedup window.
func (d *Dispatcher) WindowStart(t time.Time) time.Time {
	return t.UTC().Truncate(d.opts.DedupWindow)
}

// ShouldAlert applies the bucket policy. Reroute recommendations always alert.
func (d *Dispatcher) ShouldAlert(decision contracts.Decision) bool {
	return decision.Reroute || decision.Bucket.Rank() >= d.opts.MinBucket.Rank()
}

// Dispatch sends decision to every recipient at most once per dedup window.
// A pending or sent record skips as duplicate_skipped; a failed one with budget
// left skips as retry_pending because the sweep owns it. An exhausted failure
// does not block a fresh claim. Only dispatch log errors are returned.
func (d *Dispatcher) Dispatch(ctx context.Context, decision contracts.Decision) ([]Result, error) {
	if !d.ShouldAlert(decision) {
		results := make([]Result, 0, len(d.opts.Recipients))
		for _, r := range d.opts.Recipients {
			results = append(results, Result{Recipient: r, Outcome: OutcomePolicySkipped})
			metrics.AlertOutcomes.WithLabelValues(string(OutcomePolicySkipped)).Inc()
		}
		d.logger.Debug("alert below policy",
			slog.String("route", decision.Route),
			slog.String("risk_bucket", string(decision.Bucket)),
			slog.String("outcome", string(OutcomePolicySkipped)))
		return results, nil
	}
	if len(d.opts.Recipients) == 0 {
		d.logger.Warn("alert-worthy decision but no recipients configured", slog.String("route", decision.Route))
		return nil, nil
	}

	payload, err := json.Marshal(decision)
	if err != nil {
		return nil, fmt.Errorf("marshal decision payload: %w", err)
	}
	window := d.WindowStart(d.now())

	results := make([]Result, 0, len(d.opts.Recipients))
	for _, recipient := range d.opts.Recipients {
		key := AlertKey(decision.Route, decision.Bucket, window, recipient)

		if d.opts.DryRun {
			blocking, exists, err := d.log.BlockingDispatch(ctx, key, d.opts.MaxAttempts)
			if err != nil {
				return results, err
			}
			outcome := OutcomeDryRun
			if exists {
				outcome = skipOutcome(blocking)
			}
			results = append(results, d.record(Result{Recipient: recipient, AlertKey: key, Outcome: outcome}, decision.Route))
			continue
		}

		rec, claimed, err := d.log.ClaimDispatch(ctx, contracts.DispatchRecord{
			AlertKey:        key,
			Route:           decision.Route,
			RiskBucket:      decision.Bucket,
			Recipient:       recipient,
			Status:          contracts.StatusPending,
			DecisionPayload: payload,
			AttemptNumber:   1,
		}, d.opts.MaxAttempts)
		if err != nil {
			return results, err
		}
		if !claimed {
			res := Result{Recipient: recipient, AlertKey: key, Outcome: skipOutcome(rec), Attempt: rec.AttemptNumber}
			results = append(results, d.record(res, decision.Route))
			continue
		}

		res, err := d.deliver(ctx, rec, 1, decision)
		if err != nil {
			return results, err
		}
		results = append(results, d.record(res, decision.Route))
	}
	return results, nil
}

func skipOutcome(blocking contracts.DispatchRecord) Outcome {
	if blocking.Status == contracts.StatusFailed {
		return OutcomeRetryPending
	}
	return OutcomeDuplicateSkipped
}

// deliver sends one attempt and records its outcome. The returned error is
// reserved for dispatch log failures.
func (d *Dispatcher) deliver(ctx context.Context, rec contracts.DispatchRecord, attempt int, decision contracts.Decision) (Result, error) {
	res := Result{Recipient: rec.Recipient, AlertKey: rec.AlertKey, Attempt: attempt}

	messageID, sendErr := d.send(ctx, rec.Recipient, rec.AlertKey, decision)
	return d.complete(ctx, rec, res, messageID, sendErr)
}

func (d *Dispatcher) send(ctx context.Context, recipient, alertKey string, decision contracts.Decision) (string, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	if d.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.SendTimeout)
		defer cancel()
	}
	return d.notifier.Send(ctx, NewMessage(recipient, alertKey, decision))
}

func (d *Dispatcher) complete(ctx context.Context, rec contracts.DispatchRecord, res Result, messageID string, sendErr error) (Result, error) {
	// Outcomes are recorded even if the caller's context was cancelled mid-send.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if sendErr == nil {
		var idPtr *string
		if messageID != "" {
			idPtr = &messageID
		}
		if err := d.log.CompleteDispatch(writeCtx, rec.ID, res.Attempt, contracts.StatusSent, idPtr, nil); err != nil {
			return res, err
		}
		res.Outcome = OutcomeSent
		res.MessageID = messageID
		return res, nil
	}

	msg := sendErr.Error()
	if err := d.log.CompleteDispatch(writeCtx, rec.ID, res.Attempt, contracts.StatusFailed, nil, &msg); err != nil {
		return res, err
	}
	res.Err = sendErr
	res.Outcome = OutcomeFailed
	if res.Attempt >= d.opts.MaxAttempts {
		res.Outcome = OutcomeRetryExhausted
	}
	return res, nil
}

func (d *Dispatcher) record(res Result, route string) Result {
	metrics.AlertOutcomes.WithLabelValues(string(res.Outcome)).Inc()

	attrs := []any{
		slog.String("route", route),
		slog.String("recipient", res.Recipient),
		slog.String("alert_key", res.AlertKey),
		slog.String("outcome", string(res.Outcome)),
	}
	if res.Attempt > 0 {
		attrs = append(attrs, slog.Int("attempt", res.Attempt))
	}
	if res.MessageID != "" {
		attrs = append(attrs, slog.String("provider_message_id", res.MessageID))
	}

	switch res.Outcome {
	case OutcomeFailed:
		d.logger.Warn("alert delivery failed", append(attrs, logging.Err(res.Err))...)
	case OutcomeRetryExhausted:
		d.logger.Warn("alert retry budget exhausted", append(attrs, logging.Err(res.Err))...)
	default:
		d.logger.Info("alert dispatch", attrs...)
	}
	return res
}

var errInvalidPayload = errors.New("invalid_decision_payload")
