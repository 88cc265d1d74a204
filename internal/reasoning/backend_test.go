package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBackendGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)

		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3", req.Model)
		assert.Equal(t, "json", req.Format)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "assess", req.Messages[0].Content)

		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaMessage{Role: "assistant", Content: validResponse},
			Done:    true,
		})
	}))
	defer srv.Close()

	backend := NewLocalBackend(srv.URL+"/", "llama3")
	out, err := backend.Generate(context.Background(), "assess")
	require.NoError(t, err)
	assert.Equal(t, validResponse, out)
}

func TestLocalBackendErrorsAreUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'llama3' not found"}`))
	}))
	defer srv.Close()

	_, err := NewLocalBackend(srv.URL, "llama3").Generate(context.Background(), "assess")

	var unavailableErr *BackendUnavailableError
	require.True(t, errors.As(err, &unavailableErr))
	assert.Contains(t, err.Error(), "ollama pull llama3")
}

func TestLocalBackendTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewLocalBackend(srv.URL, "llama3").Generate(ctx, "assess")

	var unavailableErr *BackendUnavailableError
	require.True(t, errors.As(err, &unavailableErr))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalBackendCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[{"name":"mistral:latest"},{"name":"llama3:latest"}]}`))
	}))
	defer srv.Close()

	assert.NoError(t, NewLocalBackend(srv.URL, "llama3").Check(context.Background()))
	assert.Error(t, NewLocalBackend(srv.URL, "phi3").Check(context.Background()))
}

func TestCloudBackendGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req["model"])
		format, _ := req["response_format"].(map[string]any)
		assert.Equal(t, "json_object", format["type"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": validResponse},
				"finish_reason": "stop",
			}},
		})
	}))
	defer srv.Close()

	backend, err := NewCloudBackend("sk-test", srv.URL+"/v1", "")
	require.NoError(t, err)

	out, err := backend.Generate(context.Background(), "assess")
	require.NoError(t, err)
	assert.Equal(t, validResponse, out)
}

func TestCloudBackendServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	backend, err := NewCloudBackend("sk-test", srv.URL+"/v1", "gpt-4o-mini")
	require.NoError(t, err)

	_, err = backend.Generate(context.Background(), "assess")
	var unavailableErr *BackendUnavailableError
	assert.True(t, errors.As(err, &unavailableErr))
}

func TestNewSelectsBackend(t *testing.T) {
	local, err := New("ollama", Options{OllamaBaseURL: "http://localhost:11434", OllamaModel: "llama3"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", local.Name())

	_, err = New("openai", Options{})
	assert.Error(t, err)

	_, err = New("gemini", Options{})
	assert.Error(t, err)
}
