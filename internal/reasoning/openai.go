package reasoning

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"
)

const systemPersona = "You are a senior supply chain risk analyst. Answer with a single JSON object."

// CloudBackend calls an OpenAI-compatible chat completions endpoint.
type CloudBackend struct {
	client *openai.Client
	model  string
}

// NewCloudBackend builds the client. An empty baseURL targets the public OpenAI API.
func NewCloudBackend(apiKey, baseURL, model string) (*CloudBackend, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &CloudBackend{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

func (b *CloudBackend) Name() string { return "openai" }

func (b *CloudBackend) Generate(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPersona},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := b.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", &BackendUnavailableError{Backend: b.Name(), Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", unavailable(b.Name(), "no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func (b *CloudBackend) Check(ctx context.Context) error {
	models, err := b.client.ListModels(ctx)
	if err != nil {
		return &BackendUnavailableError{Backend: b.Name(), Err: err}
	}
	for _, m := range models.Models {
		if m.ID == b.model {
			return nil
		}
	}
	return unavailable(b.Name(), "model %q not offered by endpoint", b.model)
}
