package alert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMail struct {
	Personalizations []struct {
		To []struct {
			Email string `json:"email"`
		} `json:"to"`
	} `json:"personalizations"`
	From struct {
		Email string `json:"email"`
	} `json:"from"`
	Subject string `json:"subject"`
	Content []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"content"`
	CustomArgs map[string]string `json:"custom_args"`
}

func TestSendGridNotifier(t *testing.T) {
	var got sentMail
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer SG.test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("X-Message-Id", "abc123")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n := NewSendGridNotifier("SG.test", "alerts@example.com").WithBaseURL(server.URL + "/")
	msg := NewMessage("ops@example.com", "k1", highDecision())
	id, err := n.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)

	assert.Equal(t, "alerts@example.com", got.From.Email)
	assert.Equal(t, msg.Subject, got.Subject)
	require.Len(t, got.Personalizations, 1)
	assert.Equal(t, "ops@example.com", got.Personalizations[0].To[0].Email)
	require.Len(t, got.Content, 2)
	assert.Equal(t, "text/plain", got.Content[0].Type)
	assert.Equal(t, "text/html", got.Content[1].Type)
	assert.Equal(t, "k1", got.CustomArgs["alert_key"])
}

func TestSendGridNotifierErrors(t *testing.T) {
	_, err := NewSendGridNotifier("", "alerts@example.com").Send(context.Background(), Message{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer server.Close()

	n := NewSendGridNotifier("SG.test", "alerts@example.com").WithBaseURL(server.URL)
	_, err = n.Send(context.Background(), NewMessage("ops@example.com", "k1", highDecision()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http_status_401")
}

type captureWriter struct {
	msgs []kafka.Message
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func TestKafkaNotifier(t *testing.T) {
	w := &captureWriter{}
	n := NewKafkaNotifier(w)

	id, err := n.Send(context.Background(), NewMessage("ops@example.com", "k1", highDecision()))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "k1", string(w.msgs[0].Key))

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &out))
	assert.Equal(t, id, out["message_id"])
	assert.Equal(t, "ops@example.com", out["recipient"])
}

func TestFormatHTMLEscapes(t *testing.T) {
	d := highDecision()
	d.Route = "<script>alert(1)</script>"
	d.Reasoning.Reasoning = "A & B"

	out := FormatHTML(d)
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "&lt;script&gt;")
	assert.Contains(t, out, "A &amp; B")
	assert.Contains(t, out, "#d9534f")
	assert.Contains(t, out, "<li>Cape of Good Hope</li>")
}

func TestFormatText(t *testing.T) {
	d := highDecision()
	d.Degraded = true
	out := FormatText(d)
	assert.Contains(t, out, "Risk score: 82/100 (critical)")
	assert.Contains(t, out, "Predicted delay: 9 days")
	assert.Contains(t, out, "REROUTE_NOW")
	assert.Contains(t, out, "baseline estimate used")
	assert.Equal(t, "Route Risk Alert: Red Sea -> India risk 82/100 (critical)", Subject(d))
}
