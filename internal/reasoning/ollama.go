package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// LocalBackend talks to an Ollama server over its HTTP API.
type LocalBackend struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func NewLocalBackend(baseURL, model string) *LocalBackend {
	return &LocalBackend{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
	}
}

func (b *LocalBackend) Name() string { return "ollama" }

func (b *LocalBackend) Generate(ctx context.Context, prompt string) (string, error) {
	payload := ollamaChatRequest{
		Model:    b.model,
		Messages: []ollamaMessage{{Role: "user", Content: prompt}},
		Stream:   false,
		Format:   "json",
		Options:  map[string]any{"temperature": 0.2},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", &BackendUnavailableError{Backend: b.Name(), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &BackendUnavailableError{Backend: b.Name(), Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ollamaChatResponse
		if json.Unmarshal(respBody, &errResp) == nil && strings.Contains(errResp.Error, "not found") {
			return "", unavailable(b.Name(), "model %q not found, run: ollama pull %s", b.model, b.model)
		}
		return "", unavailable(b.Name(), "status %d: %s", resp.StatusCode, truncate(string(respBody), 256))
	}

	var chat ollamaChatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return "", unavailable(b.Name(), "decode chat response: %v", err)
	}
	return chat.Message.Content, nil
}

// Check verifies the server answers and the configured model is pulled.
func (b *LocalBackend) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create ollama tags request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return &BackendUnavailableError{Backend: b.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return unavailable(b.Name(), "tags status %d", resp.StatusCode)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return unavailable(b.Name(), "decode tags: %v", err)
	}
	for _, m := range tags.Models {
		if m.Name == b.model || strings.HasPrefix(m.Name, b.model+":") {
			return nil
		}
	}
	return unavailable(b.Name(), "model %q not found, run: ollama pull %s", b.model, b.model)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
