package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/alert"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/contracts"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/logging"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/metrics"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/risk"
)

// EventSource returns a route's normalized events with event_time in [since, until].
type EventSource interface {
	ListRouteEvents(ctx context.Context, route string, since, until time.Time) ([]contracts.RiskEvent, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, baseline contracts.BaselineScore, events []contracts.RiskEvent) (contracts.Decision, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, decision contracts.Decision) ([]alert.Result, error)
	RetrySweep(ctx context.Context) (alert.SweepReport, error)
}

type Options struct {
	Routes       []string
	Interval     time.Duration
	EventWindow  time.Duration
	FetchTimeout time.Duration
	Concurrency  int
	MaxOverlap   int
	CycleTimeout time.Duration
	DryRun       bool
}

type RouteReport struct {
	Route    string
	Decision *contracts.Decision
	Alerts   []alert.Result
	Err      error
}

type CycleReport struct {
	StartedAt time.Time
	Duration  time.Duration
	Routes    []RouteReport
	Sweep     alert.SweepReport
	SweepErr  error
}

// Failed lists the routes whose evaluation was aborted.
func (r CycleReport) Failed() []RouteReport {
	var out []RouteReport
	for _, rr := range r.Routes {
		if rr.Err != nil {
			out = append(out, rr)
		}
	}
	return out
}

type Orchestrator struct {
	source     EventSource
	engine     *risk.Engine
	gate       Evaluator
	dispatcher Dispatcher
	publishers []DecisionPublisher
	opts       Options
	overlap    *semaphore.Weighted
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithPublishers fans every Decision out to the given sinks. Publishers are
// not called in dry-run mode.
func WithPublishers(publishers ...DecisionPublisher) Option {
	return func(o *Orchestrator) { o.publishers = append(o.publishers, publishers...) }
}

func NewOrchestrator(source EventSource, engine *risk.Engine, gate Evaluator, dispatcher Dispatcher, opts Options, options ...Option) *Orchestrator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxOverlap < 1 {
		opts.MaxOverlap = 1
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = opts.Interval * time.Duration(opts.MaxOverlap)
	}
	o := &Orchestrator{
		source:     source,
		engine:     engine,
		gate:       gate,
		dispatcher: dispatcher,
		opts:       opts,
		overlap:    semaphore.NewWeighted(int64(opts.MaxOverlap)),
		logger:     logging.Discard(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// RunCycle evaluates every route once, then runs one retry sweep. A failing
// route is recorded in the report and never aborts the others. The returned
// error is non-nil only when ctx ended before the cycle finished.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleReport, error) {
	started := time.Now()
	windowEnd := o.now()
	windowStart := windowEnd.Add(-o.opts.EventWindow)

	report := CycleReport{StartedAt: windowEnd, Routes: make([]RouteReport, len(o.opts.Routes))}

	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)
	for i, route := range o.opts.Routes {
		g.Go(func() error {
			report.Routes[i] = o.evaluateRoute(ctx, route, windowStart, windowEnd)
			return nil
		})
	}
	_ = g.Wait()

	for _, rr := range report.Failed() {
		metrics.RouteErrors.Inc()
		o.logger.Error("route evaluation failed", slog.String("route", rr.Route), logging.Err(rr.Err))
	}

	if ctx.Err() == nil {
		report.Sweep, report.SweepErr = o.dispatcher.RetrySweep(ctx)
		if report.SweepErr != nil {
			o.logger.Error("retry sweep failed", logging.Err(report.SweepErr))
		} else if !report.Sweep.Skipped {
			o.logger.Info("retry sweep",
				slog.Int("candidates", report.Sweep.Candidates),
				slog.Int("sent", report.Sweep.Sent),
				slog.Int("failed", report.Sweep.Failed),
				slog.Int("exhausted", report.Sweep.Exhausted))
		}
	}

	report.Duration = time.Since(started)
	metrics.CycleDuration.Observe(report.Duration.Seconds())
	o.logger.Info("cycle complete",
		slog.Int("routes", len(report.Routes)),
		slog.Int("failed_routes", len(report.Failed())),
		slog.Duration("duration", report.Duration),
		slog.Bool("dry_run", o.opts.DryRun))

	return report, ctx.Err()
}

func (o *Orchestrator) evaluateRoute(ctx context.Context, route string, windowStart, windowEnd time.Time) RouteReport {
	rr := RouteReport{Route: route}

	fetchCtx := ctx
	if o.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, o.opts.FetchTimeout)
		defer cancel()
	}
	events, err := o.source.ListRouteEvents(fetchCtx, route, windowStart, windowEnd)
	if err != nil {
		rr.Err = fmt.Errorf("fetch events: %w", err)
		return rr
	}

	baseline := o.engine.Score(route, events, windowStart, windowEnd)
	decision, err := o.gate.Evaluate(ctx, baseline, events)
	if err != nil {
		rr.Err = fmt.Errorf("evaluate: %w", err)
		return rr
	}
	rr.Decision = &decision

	o.logger.Info("route evaluated",
		slog.String("route", route),
		slog.Int("events", len(events)),
		slog.Float64("baseline_score", baseline.Score),
		slog.Float64("final_score", decision.FinalScore),
		slog.String("risk_bucket", string(decision.Bucket)),
		slog.Bool("escalated", decision.Escalated),
		slog.Bool("cache_hit", decision.CacheHit),
		slog.Bool("degraded", decision.Degraded),
		slog.String("action", decision.RecommendedAction))

	if !o.opts.DryRun {
		for _, p := range o.publishers {
			if err := p.PublishDecision(ctx, decision); err != nil {
				o.logger.Warn("decision publish failed",
					slog.String("route", route),
					slog.String("publisher", p.Name()),
					logging.Err(err))
			}
		}
	}

	rr.Alerts, err = o.dispatcher.Dispatch(ctx, decision)
	if err != nil {
		rr.Err = fmt.Errorf("dispatch: %w", err)
	}
	return rr
}

// Run executes a cycle immediately and then on every interval tick until ctx
// ends. Ticks arriving while MaxOverlap cycles are still running are skipped.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.opts.Interval <= 0 {
		return errors.New("monitor interval must be positive")
	}
	o.logger.Info("monitoring active",
		slog.Int("routes", len(o.opts.Routes)),
		slog.Duration("interval", o.opts.Interval),
		slog.Bool("dry_run", o.opts.DryRun))

	var wg sync.WaitGroup
	defer wg.Wait()

	ticker := time.NewTicker(o.opts.Interval)
	defer ticker.Stop()

	o.trigger(ctx, &wg)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("monitor shutting down")
			return nil
		case <-ticker.C:
			o.trigger(ctx, &wg)
		}
	}
}

func (o *Orchestrator) trigger(ctx context.Context, wg *sync.WaitGroup) bool {
	if !o.overlap.TryAcquire(1) {
		metrics.CyclesSkipped.Inc()
		o.logger.Warn("cycle skipped, previous cycles still running", slog.Int("max_overlap", o.opts.MaxOverlap))
		return false
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer o.overlap.Release(1)

		cycleCtx, cancel := context.WithTimeout(ctx, o.opts.CycleTimeout)
		defer cancel()
		if _, err := o.RunCycle(cycleCtx); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error("cycle aborted", logging.Err(err))
		}
	}()
	return true
}
