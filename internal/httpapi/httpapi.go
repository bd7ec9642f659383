// Package httpapi is the gateway's route glue (C9): request validation,
// the idempotency/rate-limit/orchestrator pipeline ordering of spec.md
// §5, and response shaping. Grounded on the teacher's api/handlers
// package (WriteJSON/WriteError helpers, a Response envelope) narrowed to
// this gateway's single chat-completions endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/maxpetrusenko/deterministic-llm-service/internal/chatmodel"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/gwerr"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/idempotency"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/metrics"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/middleware"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/orchestrator"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/ratelimit"
)

// defaultRequestTimeout bounds the entire orchestrator call when the
// request omits a timeout field, per spec.md §6.
const defaultRequestTimeout = 30 * time.Second

// Handler wires the chat-completions and health/metrics routes together.
type Handler struct {
	orch       *orchestrator.Orchestrator
	idempotent *idempotency.Cache
	limiter    *ratelimit.Limiter
	metrics    *metrics.Collector
	logger     *zap.Logger
	started    time.Time
}

// New creates a Handler.
func New(
	orch *orchestrator.Orchestrator,
	idempotent *idempotency.Cache,
	limiter *ratelimit.Limiter,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{orch: orch, idempotent: idempotent, limiter: limiter, metrics: collector, logger: logger, started: time.Now()}
}

// Routes returns the gateway's mux, with middleware applied per route.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/health", middleware.Chain(http.HandlerFunc(h.handleHealth), middleware.Metrics(h.metrics, "/health")))
	mux.Handle("/metrics", h.metrics.Handler())
	mux.Handle("/v1/chat/completions", middleware.Chain(
		http.HandlerFunc(h.handleChatCompletions),
		middleware.Metrics(h.metrics, "/v1/chat/completions"),
	))
	return middleware.Chain(mux, middleware.RequestID(), middleware.Recovery(h.logger), middleware.RequestLogger(h.logger))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.started).Seconds(),
		"requestId": middleware.RequestIDFromContext(r.Context()),
	})
}

type chatRequestBody struct {
	Model       string              `json:"model"`
	Messages    []chatmodel.Message `json:"messages"`
	Temperature *float64            `json:"temperature,omitempty"`
	MaxTokens   *int                `json:"maxTokens,omitempty"`
	Provider    string              `json:"provider,omitempty"`
	TimeoutMS   *int                `json:"timeout,omitempty"`
}

// handleChatCompletions implements spec.md §4.9 and §5's ordering
// guarantee: rate limit, then idempotency lookup, then orchestrator
// invocation, then idempotency store, then response emission.
func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.RequestIDFromContext(r.Context())

	key := clientKey(r)
	result := h.limiter.Check(key)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.limiter.Max()))
	setRateLimitHeaders(w, result)
	if !result.Allowed {
		h.metrics.RecordRateLimitExceeded(key)
		retryAfter := int(math.Ceil(time.Until(result.ResetTime).Seconds()))
		if retryAfter < 0 {
			retryAfter = 0
		}
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":      "Too many requests",
			"retryAfter": retryAfter,
		})
		return
	}

	idempotencyKey := r.Header.Get("X-Idempotency-Key")
	if idempotencyKey != "" {
		if cached, ok := h.idempotent.Get(idempotencyKey); ok {
			h.metrics.RecordCacheHit("idempotency")
			w.Header().Set("X-Cached", "true")
			writeJSON(w, http.StatusOK, cached)
			return
		}
		h.metrics.RecordCacheMiss("idempotency")
	}

	var body chatRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeValidationError(w, []string{"malformed JSON body"})
		return
	}
	if details := validate(body); len(details) > 0 {
		writeValidationError(w, details)
		return
	}

	req := chatmodel.ChatRequest{
		Model:       body.Model,
		Messages:    body.Messages,
		Temperature: body.Temperature,
		MaxTokens:   body.MaxTokens,
		TimeoutMS:   body.TimeoutMS,
		Provider:    body.Provider,
	}

	timeout := defaultRequestTimeout
	if body.TimeoutMS != nil {
		timeout = time.Duration(*body.TimeoutMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	start := time.Now()
	resp, err := h.orch.Chat(ctx, req, body.Provider)
	duration := time.Since(start)

	providerName := body.Provider
	if providerName == "" {
		providerName = "default"
	}

	if err != nil {
		h.metrics.RecordProviderCall(providerName, body.Model, "error", duration)
		h.writeError(w, err, requestID)
		return
	}
	h.metrics.RecordProviderCall(providerName, resp.Model, "ok", duration)
	h.metrics.RecordTokens(providerName, resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	if idempotencyKey != "" {
		h.idempotent.Set(idempotencyKey, *resp)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeError(w http.ResponseWriter, err error, requestID string) {
	var gerr *gwerr.Error
	if errors.As(err, &gerr) {
		status := gerr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		h.logger.Error("request failed",
			zap.String("code", string(gerr.Code)),
			zap.String("message", gerr.Message),
			zap.String("requestId", requestID),
		)
		writeJSON(w, status, map[string]any{
			"error":     "Internal server error",
			"requestId": requestID,
		})
		return
	}
	h.logger.Error("request failed", zap.Error(err), zap.String("requestId", requestID))
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"error":     "Internal server error",
		"requestId": requestID,
	})
}

func writeValidationError(w http.ResponseWriter, details []string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":   "Validation error",
		"details": details,
	})
}

func validate(body chatRequestBody) []string {
	var details []string
	if body.Model == "" {
		details = append(details, "model is required")
	}
	if len(body.Messages) == 0 {
		details = append(details, "messages must contain at least one entry")
	}
	for i, m := range body.Messages {
		switch m.Role {
		case chatmodel.RoleSystem, chatmodel.RoleUser, chatmodel.RoleAssistant:
		default:
			details = append(details, fmt.Sprintf("messages[%d].role is invalid", i))
		}
		if m.Content == "" {
			details = append(details, fmt.Sprintf("messages[%d].content is required", i))
		}
	}
	if body.Temperature != nil && (*body.Temperature < 0 || *body.Temperature > 2) {
		details = append(details, "temperature must be between 0 and 2")
	}
	if body.MaxTokens != nil && *body.MaxTokens <= 0 {
		details = append(details, "maxTokens must be a positive integer")
	}
	if body.TimeoutMS != nil && *body.TimeoutMS <= 0 {
		details = append(details, "timeout must be a positive integer")
	}
	if body.Provider != "" && body.Provider != "openai" && body.Provider != "anthropic" {
		details = append(details, "provider must be one of: openai, anthropic")
	}
	return details
}

func setRateLimitHeaders(w http.ResponseWriter, result ratelimit.Result) {
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", result.ResetTime.UTC().Format(time.RFC3339))
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
