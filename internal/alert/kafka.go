package alert

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/mq"
)

// KafkaNotifier hands alerts to a downstream mail relay through a topic.
type KafkaNotifier struct {
	writer mq.MessageWriter
}

func NewKafkaNotifier(writer mq.MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

func (n *KafkaNotifier) Name() string { return "kafka" }

// OutboundAlert is the record written to the alerts topic.
type OutboundAlert struct {
	MessageID string `json:"message_id"`
	Message
}

func (n *KafkaNotifier) Send(ctx context.Context, msg Message) (string, error) {
	id := uuid.NewString()
	if err := mq.PublishJSON(ctx, n.writer, msg.AlertKey, OutboundAlert{MessageID: id, Message: msg}); err != nil {
		return "", fmt.Errorf("publish alert: %w", err)
	}
	return id, nil
}
