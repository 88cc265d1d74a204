package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/alert"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/contracts"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/risk"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu       sync.Mutex
	events   map[string][]contracts.RiskEvent
	errs     map[string]error
	since    time.Time
	until    time.Time
	active   atomic.Int32
	peak     atomic.Int32
	hold     time.Duration
	block    chan struct{}
	entered  chan struct{}
	requests atomic.Int32
}

func (f *fakeSource) ListRouteEvents(ctx context.Context, route string, since, until time.Time) ([]contracts.RiskEvent, error) {
	f.requests.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.hold > 0 {
		time.Sleep(f.hold)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.since, f.until = since, until
	if err := f.errs[route]; err != nil {
		return nil, err
	}
	return f.events[route], nil
}

type fakeEvaluator struct{}

func (fakeEvaluator) Evaluate(_ context.Context, baseline contracts.BaselineScore, _ []contracts.RiskEvent) (contracts.Decision, error) {
	return contracts.Decision{
		Route:      baseline.Route,
		Baseline:   baseline,
		FinalScore: baseline.Score,
		Bucket:     risk.DefaultBucketPolicy().Bucket(baseline.Score),
	}, nil
}

type fakeDispatcher struct {
	mu        sync.Mutex
	decisions []contracts.Decision
	sweeps    atomic.Int32
	err       error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, decision contracts.Decision) ([]alert.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, decision)
	return []alert.Result{{Recipient: "ops@example.com", Outcome: alert.OutcomePolicySkipped}}, f.err
}

func (f *fakeDispatcher) RetrySweep(context.Context) (alert.SweepReport, error) {
	f.sweeps.Add(1)
	return alert.SweepReport{}, nil
}

type capturePublisher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *capturePublisher) Name() string { return "capture" }

func (c *capturePublisher) PublishDecision(context.Context, contracts.Decision) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func strike(route string, severity int) contracts.RiskEvent {
	return contracts.RiskEvent{
		EventType:   contracts.EventGeopolitical,
		GeoLocation: "Bab-el-Mandeb",
		Severity:    severity,
		Confidence:  0.9,
		Description: "strike",
		Source:      "test",
		Route:       route,
		EventTime:   now.Add(-time.Hour),
	}
}

func testOptions(routes ...string) Options {
	return Options{
		Routes:       routes,
		Interval:     time.Hour,
		EventWindow:  48 * time.Hour,
		FetchTimeout: time.Second,
		Concurrency:  4,
		MaxOverlap:   1,
	}
}

func newTestOrchestrator(src EventSource, d Dispatcher, opts Options, options ...Option) *Orchestrator {
	options = append([]Option{WithClock(func() time.Time { return now })}, options...)
	return NewOrchestrator(src, risk.NewEngine(12*time.Hour), fakeEvaluator{}, d, opts, options...)
}

func TestRunCycleIsolatesRouteErrors(t *testing.T) {
	src := &fakeSource{
		events: map[string][]contracts.RiskEvent{"A": {strike("A", 90)}, "C": {strike("C", 40)}},
		errs:   map[string]error{"B": errors.New("timeout")},
	}
	d := &fakeDispatcher{}
	o := newTestOrchestrator(src, d, testOptions("A", "B", "C"))

	report, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Routes, 3)

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "B", failed[0].Route)
	assert.ErrorContains(t, failed[0].Err, "fetch events")

	assert.NotNil(t, report.Routes[0].Decision)
	assert.NotNil(t, report.Routes[2].Decision)
	assert.Len(t, d.decisions, 2)
	assert.EqualValues(t, 1, d.sweeps.Load())
}

func TestRunCycleUsesEventWindow(t *testing.T) {
	src := &fakeSource{}
	o := newTestOrchestrator(src, &fakeDispatcher{}, testOptions("A"))

	_, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now.Add(-48*time.Hour), src.since)
	assert.Equal(t, now, src.until)
}

func TestRunCycleEmptyRouteStillEvaluated(t *testing.T) {
	d := &fakeDispatcher{}
	o := newTestOrchestrator(&fakeSource{}, d, testOptions("A"))

	report, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.Routes[0].Decision)
	assert.Zero(t, report.Routes[0].Decision.FinalScore)
	assert.Equal(t, contracts.BucketLow, report.Routes[0].Decision.Bucket)
}

func TestRunCycleBoundsConcurrency(t *testing.T) {
	src := &fakeSource{hold: 20 * time.Millisecond}
	opts := testOptions("A", "B", "C", "D", "E", "F")
	opts.Concurrency = 2
	o := newTestOrchestrator(src, &fakeDispatcher{}, opts)

	_, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, src.peak.Load(), int32(2))
	assert.EqualValues(t, 6, src.requests.Load())
}

func TestRunCyclePublishers(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	o := newTestOrchestrator(&fakeSource{}, &fakeDispatcher{}, testOptions("A", "B"), WithPublishers(pub))

	report, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Failed())
	assert.Equal(t, 2, pub.calls)
}

func TestRunCycleDryRunSkipsPublishers(t *testing.T) {
	pub := &capturePublisher{}
	d := &fakeDispatcher{}
	opts := testOptions("A")
	opts.DryRun = true
	o := newTestOrchestrator(&fakeSource{}, d, opts, WithPublishers(pub))

	_, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pub.calls)
	assert.Len(t, d.decisions, 1)
	assert.EqualValues(t, 1, d.sweeps.Load())
}

func TestRunCycleDispatchError(t *testing.T) {
	d := &fakeDispatcher{err: errors.New("dispatch log unavailable")}
	o := newTestOrchestrator(&fakeSource{}, d, testOptions("A"))

	report, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Failed(), 1)
	assert.ErrorContains(t, report.Failed()[0].Err, "dispatch")
}

func TestTriggerSkipsWhenOverlapReached(t *testing.T) {
	src := &fakeSource{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	o := newTestOrchestrator(src, &fakeDispatcher{}, testOptions("A"))

	var wg sync.WaitGroup
	require.True(t, o.trigger(context.Background(), &wg))
	<-src.entered
	assert.False(t, o.trigger(context.Background(), &wg))

	close(src.block)
	wg.Wait()
	assert.True(t, o.trigger(context.Background(), &wg))
	wg.Wait()
}

func TestRunStopsOnCancel(t *testing.T) {
	src := &fakeSource{entered: make(chan struct{}, 1)}
	d := &fakeDispatcher{}
	o := newTestOrchestrator(src, d, testOptions("A"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	<-src.entered
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type captureWriter struct {
	msgs []kafka.Message
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func TestKafkaPublisherKeysByRoute(t *testing.T) {
	w := &captureWriter{}
	p := NewKafkaPublisher(w)
	require.NoError(t, p.PublishDecision(context.Background(), contracts.Decision{Route: "Red Sea -> India", FinalScore: 72}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "Red Sea -> India", string(w.msgs[0].Key))
	assert.Contains(t, string(w.msgs[0].Value), `"final_score":72`)
}
