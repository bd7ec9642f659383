package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/maxpetrusenko/deterministic-llm-service/internal/chatmodel"
)

func TestChat_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body.Model)
		assert.Len(t, body.Messages, 1)

		_ = json.NewEncoder(w).Encode(wireResponse{
			ID:    "chatcmpl-1",
			Model: "gpt-4o-mini",
			Choices: []wireChoice{{
				Index:        0,
				FinishReason: "stop",
				Message:      wireMessage{Role: "assistant", Content: "hello"},
			}},
			Usage: wireUsage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12},
		})
	}))
	defer srv.Close()

	p := New(Config{APIKey: "sk-test", BaseURL: srv.URL}, zap.NewNop())

	result := p.Chat(context.Background(), chatmodel.ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "hi"}},
	})

	require.True(t, result.Ok())
	assert.Equal(t, "hello", result.Response.Content)
	assert.Equal(t, chatmodel.FinishStop, result.Response.FinishReason)
	assert.Equal(t, 12, result.Response.Usage.TotalTokens)
}

func TestChat_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	p := New(Config{APIKey: "k", BaseURL: srv.URL}, zap.NewNop())
	result := p.Chat(context.Background(), chatmodel.ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "hi"}},
	})

	require.False(t, result.Ok())
	assert.True(t, result.Retryable)
	assert.Contains(t, result.Err.Error(), "boom")
}

func TestChat_BadRequestIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid request"}}`))
	}))
	defer srv.Close()

	p := New(Config{APIKey: "k", BaseURL: srv.URL}, zap.NewNop())
	result := p.Chat(context.Background(), chatmodel.ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "hi"}},
	})

	require.False(t, result.Ok())
	assert.False(t, result.Retryable)
}

func TestChat_TooManyRequestsIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	p := New(Config{APIKey: "k", BaseURL: srv.URL}, zap.NewNop())
	result := p.Chat(context.Background(), chatmodel.ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "hi"}},
	})

	require.False(t, result.Ok())
	assert.True(t, result.Retryable)
}
