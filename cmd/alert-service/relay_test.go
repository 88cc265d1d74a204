package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/alert"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/contracts"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/logging"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/mq"
)

type captureWriter struct {
	msgs []kafka.Message
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	c.msgs = append(c.msgs, msgs...)
	return nil
}

type recordingMailer struct {
	got      []alert.Message
	err      error
	failures int
	calls    int
}

func (m *recordingMailer) Name() string { return "recording" }

func (m *recordingMailer) Send(_ context.Context, msg alert.Message) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	if m.failures > 0 {
		m.failures--
		return "", errors.New("sendgrid http_status_503")
	}
	m.got = append(m.got, msg)
	return "sg-1", nil
}

var quickRetry = mq.RetryPolicy{Attempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond}

func publishedAlert(t *testing.T) kafka.Message {
	t.Helper()
	w := &captureWriter{}
	decision := contracts.Decision{Route: "Red Sea -> India", FinalScore: 84, Bucket: contracts.BucketCritical}
	_, err := alert.NewKafkaNotifier(w).Send(context.Background(), alert.NewMessage("ops@example.com", "k1", decision))
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	return w.msgs[0]
}

func TestRelayDeliversPublishedAlert(t *testing.T) {
	mailer := &recordingMailer{}
	r := &relay{mailer: mailer, timeout: time.Second, retry: quickRetry, logger: logging.Discard()}
	require.NoError(t, r.handle(context.Background(), publishedAlert(t)))

	require.Len(t, mailer.got, 1)
	assert.Equal(t, "ops@example.com", mailer.got[0].Recipient)
	assert.Equal(t, "k1", mailer.got[0].AlertKey)
	assert.Equal(t, "Red Sea -> India", mailer.got[0].Decision.Route)
	assert.Contains(t, mailer.got[0].HTML, "Red Sea -&gt; India")
}

func TestRelayErrors(t *testing.T) {
	r := &relay{mailer: &recordingMailer{}, timeout: time.Second, retry: quickRetry, logger: logging.Discard()}
	assert.Error(t, r.handle(context.Background(), kafka.Message{Value: []byte("not json")}))

	unconfigured := &recordingMailer{err: alert.ErrNotConfigured}
	r.mailer = unconfigured
	err := r.handle(context.Background(), kafka.Message{Value: []byte(`{"message_id": "m1", "recipient": "ops@example.com"}`)})
	assert.True(t, errors.Is(err, alert.ErrNotConfigured))
	assert.Equal(t, 1, unconfigured.calls)
}

func TestRelayRetriesTransientMailFailures(t *testing.T) {
	msg := publishedAlert(t)

	flaky := &recordingMailer{failures: 2}
	r := &relay{mailer: flaky, timeout: time.Second, retry: quickRetry, logger: logging.Discard()}
	require.NoError(t, r.handle(context.Background(), msg))
	assert.Equal(t, 3, flaky.calls)
	require.Len(t, flaky.got, 1)

	down := &recordingMailer{failures: 5}
	r.mailer = down
	err := r.handle(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http_status_503")
	assert.Equal(t, 3, down.calls)
	assert.Empty(t, down.got)
}

func TestRunFailsOnInvalidConfig(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	assert.Error(t, run())
}
