package reasoning

import (
	"context"
	"fmt"
)

// Backend turns a prompt into raw model text. Implementations must honour
// ctx cancellation and report transport problems as *BackendUnavailableError.
type Backend interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Checker is implemented by backends that can verify reachability at startup.
type Checker interface {
	Check(ctx context.Context) error
}

// BackendUnavailableError covers timeouts, connection failures and non-success
// responses from a reasoning backend.
type BackendUnavailableError struct {
	Backend string
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("reasoning backend %s unavailable: %v", e.Backend, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

// ValidationError means the backend answered but the answer broke the schema.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid reasoning response: %s: %v", e.Reason, e.Err)
	}
	return "invalid reasoning response: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

func unavailable(backend string, format string, args ...any) error {
	return &BackendUnavailableError{Backend: backend, Err: fmt.Errorf(format, args...)}
}

// New selects the backend named by provider.
func New(provider string, opts Options) (Backend, error) {
	switch provider {
	case "ollama":
		return NewLocalBackend(opts.OllamaBaseURL, opts.OllamaModel), nil
	case "openai":
		b, err := NewCloudBackend(opts.OpenAIAPIKey, opts.OpenAIBaseURL, opts.OpenAIModel)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown reasoning provider %q", provider)
	}
}

type Options struct {
	OllamaBaseURL string
	OllamaModel   string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
}
