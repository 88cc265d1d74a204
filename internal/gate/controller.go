package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/contracts"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/logging"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/metrics"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/reasoning"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/risk"
)

// CacheStore is the reasoning cache. Lookups must treat expired entries as
// misses. StoreReasoning inserts or replaces an expired entry atomically and
// returns whichever live result ends up stored, so concurrent writers for one
// key converge on the same answer.
type CacheStore interface {
	LookupReasoning(ctx context.Context, key string, now time.Time) (contracts.ReasoningResult, bool, error)
	StoreReasoning(ctx context.Context, entry contracts.ReasoningCacheEntry) (contracts.ReasoningResult, error)
}

type Options struct {
	Threshold        float64
	TTL              time.Duration
	ScoreBucketWidth float64
	MaxRetries       int
	AttemptTimeout   time.Duration
	Buckets          risk.BucketPolicy
	Costs            risk.CostAssumptions
	DryRun           bool
}

type Controller struct {
	backend reasoning.Backend
	cache   CacheStore
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
	flight  singleflight.Group
}

type Option func(*Controller)

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

func NewController(backend reasoning.Backend, cache CacheStore, opts Options, options ...Option) *Controller {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	c := &Controller{
		backend: backend,
		cache:   cache,
		opts:    opts,
		logger:  logging.Discard(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range options {
		o(c)
	}
	return c
}

type resolution struct {
	result   contracts.ReasoningResult
	cacheHit bool
	degraded bool
}

// Evaluate gates one route's baseline. The threshold is checked before the
// cache. Backend failures degrade to a baseline-derived result; only cache
// storage errors are returned.
func (c *Controller) Evaluate(ctx context.Context, baseline contracts.BaselineScore, events []contracts.RiskEvent) (contracts.Decision, error) {
	now := c.now()
	decision := contracts.Decision{
		Route:       baseline.Route,
		Baseline:    baseline,
		EvaluatedAt: now,
	}

	if baseline.Score < c.opts.Threshold {
		metrics.GateDecisions.WithLabelValues("below_threshold").Inc()
		c.finish(&decision, baseline.Score, baseline.DelayEstimateDays)
		return decision, nil
	}

	decision.Escalated = true
	key := CacheKey(baseline.Route, baseline.Score, c.opts.ScoreBucketWidth, events)

	v, err, _ := c.flight.Do(key, func() (any, error) {
		return c.resolve(ctx, key, baseline, events, now)
	})
	if err != nil {
		return contracts.Decision{}, err
	}
	res := v.(resolution)

	result := res.result
	result.Alternatives = append([]string(nil), res.result.Alternatives...)
	decision.Reasoning = &result
	decision.CacheHit = res.cacheHit
	decision.Degraded = res.degraded

	final := baseline.Score
	switch {
	case res.degraded:
		metrics.GateDecisions.WithLabelValues("degraded").Inc()
	case res.cacheHit:
		metrics.GateDecisions.WithLabelValues("cache_hit").Inc()
		final = risk.Blend(baseline.Score, result.RiskScore, result.ConfidenceScore)
	default:
		metrics.GateDecisions.WithLabelValues("reasoned").Inc()
		final = risk.Blend(baseline.Score, result.RiskScore, result.ConfidenceScore)
	}
	c.finish(&decision, final, result.PredictedDelayDays)
	return decision, nil
}

func (c *Controller) finish(d *contracts.Decision, final, delay float64) {
	rec := risk.Recommend(final, delay, c.opts.Costs)
	d.FinalScore = final
	d.Bucket = c.opts.Buckets.Bucket(final)
	d.Reroute = rec.Reroute
	d.RecommendedAction = rec.Action
	d.CostBenefit = rec.CostBenefit
}

func (c *Controller) resolve(ctx context.Context, key string, baseline contracts.BaselineScore, events []contracts.RiskEvent, now time.Time) (resolution, error) {
	cached, ok, err := c.cache.LookupReasoning(ctx, key, now)
	if err != nil {
		return resolution{}, fmt.Errorf("lookup reasoning cache: %w", err)
	}
	if ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return resolution{result: cached, cacheHit: true}, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	result, err := c.generate(ctx, baseline, events)
	if err != nil {
		c.logger.Warn("reasoning degraded to baseline",
			slog.String("route", baseline.Route),
			slog.Float64("baseline_score", baseline.Score),
			logging.Err(err))
		synthesized := risk.Synthesize(baseline, risk.DegradedConfidence,
			"Reasoning backend unavailable; baseline policy applied.")
		return resolution{result: synthesized, degraded: true}, nil
	}

	if c.opts.DryRun {
		return resolution{result: result}, nil
	}

	stored, err := c.cache.StoreReasoning(ctx, contracts.ReasoningCacheEntry{
		CacheKey:  key,
		Response:  result,
		CreatedAt: now,
		ExpiresAt: now.Add(c.opts.TTL),
	})
	if err != nil {
		return resolution{}, fmt.Errorf("store reasoning cache: %w", err)
	}
	return resolution{result: stored}, nil
}

// generate makes one attempt plus MaxRetries more. Each attempt gets its own
// timeout; both invalid output and unavailability consume an attempt.
func (c *Controller) generate(ctx context.Context, baseline contracts.BaselineScore, events []contracts.RiskEvent) (contracts.ReasoningResult, error) {
	prompt := reasoning.BuildPrompt(baseline, events)
	attempts := 1 + c.opts.MaxRetries

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return contracts.ReasoningResult{}, err
		}

		result, err := c.attempt(ctx, prompt)
		if err == nil {
			metrics.ReasoningCalls.WithLabelValues(c.backend.Name(), "ok").Inc()
			return result, nil
		}

		var vErr *reasoning.ValidationError
		if errors.As(err, &vErr) {
			metrics.ReasoningCalls.WithLabelValues(c.backend.Name(), "invalid").Inc()
		} else {
			metrics.ReasoningCalls.WithLabelValues(c.backend.Name(), "unavailable").Inc()
		}
		c.logger.Debug("reasoning attempt failed",
			slog.String("route", baseline.Route),
			slog.Int("attempt", attempt),
			logging.Err(err))
		lastErr = err
	}
	return contracts.ReasoningResult{}, fmt.Errorf("reasoning failed after %d attempts: %w", attempts, lastErr)
}

func (c *Controller) attempt(ctx context.Context, prompt string) (contracts.ReasoningResult, error) {
	if c.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.AttemptTimeout)
		defer cancel()
	}

	raw, err := c.backend.Generate(ctx, prompt)
	if err != nil {
		var unavailable *reasoning.BackendUnavailableError
		if !errors.As(err, &unavailable) {
			err = &reasoning.BackendUnavailableError{Backend: c.backend.Name(), Err: err}
		}
		return contracts.ReasoningResult{}, err
	}
	return reasoning.Parse(raw)
}
