package monitor

import (
	"context"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/contracts"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/mq"
)

type DecisionPublisher interface {
	Name() string
	PublishDecision(ctx context.Context, decision contracts.Decision) error
}

// KafkaPublisher writes Decisions keyed by route.
type KafkaPublisher struct {
	writer mq.MessageWriter
}

func NewKafkaPublisher(writer mq.MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) Name() string { return "kafka" }

func (p *KafkaPublisher) PublishDecision(ctx context.Context, decision contracts.Decision) error {
	return mq.PublishJSON(ctx, p.writer, decision.Route, decision)
}
