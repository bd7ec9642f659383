package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/maxpetrusenko/deterministic-llm-service/internal/breaker"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/chatmodel"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/gwerr"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/idempotency"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/metrics"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/orchestrator"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/provider"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/ratelimit"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/retry"
)

type stubProvider struct {
	name string
	fn   func(req chatmodel.ChatRequest) chatmodel.ProviderResult
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Chat(ctx context.Context, req chatmodel.ChatRequest) chatmodel.ProviderResult {
	return s.fn(req)
}

func newTestHandler(t *testing.T, p provider.Provider, rateMax int) *Handler {
	t.Helper()
	registry := provider.NewRegistry(p.Name(), p)
	breakers := map[string]*breaker.Breaker{
		p.Name(): breaker.New(p.Name(), breaker.Config{
			ErrorThresholdPercentage: 50,
			MinSamples:               100,
			Timeout:                  time.Second,
			ResetTimeout:             time.Second,
		}, zap.NewNop()),
	}
	retryDriver := retry.New(retry.Policy{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Factor: 2}, zap.NewNop())
	orch := orchestrator.New(registry, breakers, retryDriver, nil, zap.NewNop())

	idem := idempotency.New(time.Minute, zap.NewNop())
	t.Cleanup(idem.Close)
	limiter := ratelimit.New(rateMax, time.Minute)
	t.Cleanup(limiter.Close)
	collector := metrics.NewCollector()

	return New(orch, idem, limiter, collector, zap.NewNop())
}

func validChatBody() map[string]any {
	return map[string]any{
		"model":    "gpt-4o-mini",
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	}
}

func doRequest(h *Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.1:5555"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)
	return rr
}

func TestHealth_ReturnsHealthy(t *testing.T) {
	h := newTestHandler(t, &stubProvider{name: "openai"}, 10)
	rr := doRequest(h, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "healthy")
}

func TestChatCompletions_Success(t *testing.T) {
	p := &stubProvider{name: "openai", fn: func(req chatmodel.ChatRequest) chatmodel.ProviderResult {
		return chatmodel.OkResult(&chatmodel.ChatResponse{ID: "r1", Model: req.Model, Content: "hello"})
	}}
	h := newTestHandler(t, p, 10)

	rr := doRequest(h, http.MethodPost, "/v1/chat/completions", validChatBody(), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "hello")
}

func TestChatCompletions_ValidationErrorOnEmptyMessages(t *testing.T) {
	p := &stubProvider{name: "openai"}
	h := newTestHandler(t, p, 10)

	body := map[string]any{"model": "gpt-4o-mini", "messages": []map[string]any{}}
	rr := doRequest(h, http.MethodPost, "/v1/chat/completions", body, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Validation error")
}

func TestChatCompletions_MalformedJSONRejected(t *testing.T) {
	p := &stubProvider{name: "openai"}
	h := newTestHandler(t, p, 10)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString("{not json"))
	req.RemoteAddr = "203.0.113.1:5555"
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestChatCompletions_RateLimitExceededReturns429(t *testing.T) {
	p := &stubProvider{name: "openai", fn: func(req chatmodel.ChatRequest) chatmodel.ProviderResult {
		return chatmodel.OkResult(&chatmodel.ChatResponse{ID: "r1", Model: req.Model})
	}}
	h := newTestHandler(t, p, 1)

	first := doRequest(h, http.MethodPost, "/v1/chat/completions", validChatBody(), nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := doRequest(h, http.MethodPost, "/v1/chat/completions", validChatBody(), nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), "retryAfter")
}

func TestChatCompletions_IdempotencyKeyCachesResponse(t *testing.T) {
	calls := 0
	p := &stubProvider{name: "openai", fn: func(req chatmodel.ChatRequest) chatmodel.ProviderResult {
		calls++
		return chatmodel.OkResult(&chatmodel.ChatResponse{ID: "r1", Model: req.Model, Content: "first"})
	}}
	h := newTestHandler(t, p, 10)

	headers := map[string]string{"X-Idempotency-Key": "abc-123"}
	first := doRequest(h, http.MethodPost, "/v1/chat/completions", validChatBody(), headers)
	require.Equal(t, http.StatusOK, first.Code)

	second := doRequest(h, http.MethodPost, "/v1/chat/completions", validChatBody(), headers)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("X-Cached"))
	assert.Equal(t, 1, calls, "second request with the same idempotency key must not hit the provider")
}

func TestChatCompletions_UpstreamFailurePropagatesRequestID(t *testing.T) {
	p := &stubProvider{name: "openai", fn: func(req chatmodel.ChatRequest) chatmodel.ProviderResult {
		return chatmodel.ErrResult(gwerr.New(gwerr.CodeUpstreamError, "boom"), false)
	}}
	h := newTestHandler(t, p, 10)

	rr := doRequest(h, http.MethodPost, "/v1/chat/completions", validChatBody(), map[string]string{"X-Request-Id": "req-fixed"})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "req-fixed", rr.Header().Get("X-Request-Id"))
	assert.Contains(t, rr.Body.String(), "req-fixed")
}
