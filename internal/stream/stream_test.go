package stream

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/contracts"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/logging"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/storage"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestHandlerStreamsDecisions(t *testing.T) {
	_, client := newClient(t)
	server := httptest.NewServer(Handler(client, logging.Discard()))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	ctx := context.Background()
	require.Eventually(t, func() bool {
		subs, err := client.PubSubNumSub(ctx, DecisionsChannel).Result()
		return err == nil && subs[DecisionsChannel] == 1
	}, 2*time.Second, 10*time.Millisecond)

	pub := NewPublisher(client)
	require.NoError(t, pub.PublishDecision(ctx, contracts.Decision{Route: "Red Sea -> India", FinalScore: 81, Bucket: contracts.BucketCritical}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got struct {
		Type string             `json:"type"`
		Data contracts.Decision `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "decision", got.Type)
	assert.Equal(t, "Red Sea -> India", got.Data.Route)
	assert.Equal(t, contracts.BucketCritical, got.Data.Bucket)
}

func TestPublisherWrapsErrors(t *testing.T) {
	mr, client := newClient(t)
	mr.Close()

	err := NewPublisher(client).PublishDecision(context.Background(), contracts.Decision{Route: "A"})
	var se *storage.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "publish decision", se.Op)
}
