package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/contracts"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/logging"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/storage"
)

const DecisionsChannel = "routerisk:decisions"

// Publisher fans Decisions out over Redis pub/sub.
type Publisher struct {
	client  *redis.Client
	channel string
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client, channel: DecisionsChannel}
}

func (p *Publisher) Name() string { return "redis" }

func (p *Publisher) PublishDecision(ctx context.Context, decision contracts.Decision) error {
	body, err := json.Marshal(decision)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		return &storage.StorageError{Op: "publish decision", Err: err}
	}
	return nil
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler streams live Decisions to a websocket client until either side
// disconnects.
func Handler(client *redis.Client, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", logging.Err(err))
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Reads only detect disconnects.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		pubsub := client.Subscribe(ctx, DecisionsChannel)
		defer pubsub.Close()
		if _, err := pubsub.Receive(ctx); err != nil {
			logger.Warn("decision subscription failed", logging.Err(err))
			return
		}

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(envelope{Type: "decision", Data: json.RawMessage(msg.Payload)}); err != nil {
					logger.Debug("websocket write failed", logging.Err(err))
					return
				}
			}
		}
	}
}
