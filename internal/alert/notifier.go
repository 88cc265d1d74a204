package alert

import (
	"context"
	"errors"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/contracts"
)

// ErrNotConfigured is returned by notifiers missing credentials or a sender.
var ErrNotConfigured = errors.New("notifier not configured")

// Notifier delivers one message and returns the provider message id, if any.
type Notifier interface {
	Name() string
	Send(ctx context.Context, msg Message) (string, error)
}

type Message struct {
	Recipient string             `json:"recipient"`
	AlertKey  string             `json:"alert_key"`
	Subject   string             `json:"subject"`
	Text      string             `json:"text"`
	HTML      string             `json:"html"`
	Decision  contracts.Decision `json:"decision"`
}

func NewMessage(recipient, alertKey string, decision contracts.Decision) Message {
	return Message{
		Recipient: recipient,
		AlertKey:  alertKey,
		Subject:   Subject(decision),
		Text:      FormatText(decision),
		HTML:      FormatHTML(decision),
		Decision:  decision,
	}
}
