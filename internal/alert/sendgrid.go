package alert

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const sendGridMailEndpoint = "/v3/mail/send"

// SendGridNotifier sends mail through the SendGrid v3 API.
type SendGridNotifier struct {
	host   string
	apiKey string
	sender string
}

// NewSendGridNotifier targets the public API host; see WithBaseURL.
func NewSendGridNotifier(apiKey, sender string) *SendGridNotifier {
	return &SendGridNotifier{apiKey: apiKey, sender: sender}
}

// WithBaseURL points the notifier at another API host.
func (n *SendGridNotifier) WithBaseURL(baseURL string) *SendGridNotifier {
	n.host = strings.TrimSuffix(baseURL, "/")
	return n
}

func (n *SendGridNotifier) Name() string { return "sendgrid" }

func (n *SendGridNotifier) Send(ctx context.Context, msg Message) (string, error) {
	if n.apiKey == "" || n.sender == "" {
		return "", ErrNotConfigured
	}

	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail("", n.sender))
	m.Subject = msg.Subject
	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", msg.Recipient))
	m.AddPersonalizations(p)
	m.AddContent(mail.NewContent("text/plain", msg.Text), mail.NewContent("text/html", msg.HTML))
	m.CustomArgs = map[string]string{"alert_key": msg.AlertKey}

	req := sendgrid.GetRequest(n.apiKey, sendGridMailEndpoint, n.host)
	req.Method = rest.Post
	req.Body = mail.GetRequestBody(m)

	resp, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("sendgrid request: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		detail := resp.Body
		if len(detail) > 512 {
			detail = detail[:512]
		}
		return "", fmt.Errorf("sendgrid http_status_%d: %s", resp.StatusCode, strings.TrimSpace(detail))
	}
	return messageID(resp.Headers), nil
}

func messageID(headers map[string][]string) string {
	if ids := http.Header(headers).Values("X-Message-Id"); len(ids) > 0 {
		return ids[0]
	}
	return ""
}
