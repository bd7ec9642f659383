// Package openai adapts the gateway's uniform chat contract to the OpenAI
// Chat Completions wire format. Grounded on the teacher's
// llm/providers/openaicompat base provider: a hand-rolled net/http client,
// shared request/response structs, and the MapHTTPError/ReadErrorMessage
// classification helpers from llm/providers/common.go — generalized here
// into the smaller single-vendor shape this gateway needs (no tool calls,
// no SSE streaming: both are Non-goals).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/maxpetrusenko/deterministic-llm-service/internal/chatmodel"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/gwerr"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/provider"
)

const (
	defaultBaseURL = "https://api.openai.com"
	defaultPath    = "/v1/chat/completions"
	defaultTimeout = 30 * time.Second
)

// Config configures the OpenAI adapter.
type Config struct {
	Name         string // registry name; defaults to "openai"
	APIKey       string
	BaseURL      string // defaults to defaultBaseURL
	DefaultModel string
	Timeout      time.Duration
}

// Provider is the OpenAI-shaped chat completions adapter.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New creates a Provider from cfg.
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("provider", cfg.Name)),
	}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return p.cfg.Name }

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type wireChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      wireMessage `json:"message"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   wireUsage    `json:"usage"`
}

// Chat implements provider.Provider. The returned ProviderResult never
// carries a panic or an untyped error: every failure path is classified
// into ok=false, Retryable, and a *gwerr.Error cause.
func (p *Provider) Chat(ctx context.Context, req chatmodel.ChatRequest) chatmodel.ProviderResult {
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}

	wireMsgs := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		wireMsgs = append(wireMsgs, wireMessage{Role: string(m.Role), Content: m.Content})
	}

	body := wireRequest{
		Model:       model,
		Messages:    wireMsgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return chatmodel.ErrResult(
			gwerr.New(gwerr.CodeInternal, "failed to marshal openai request").
				WithCause(err).WithProvider(p.cfg.Name),
			false,
		)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return chatmodel.ErrResult(
			gwerr.New(gwerr.CodeInternal, "failed to build openai request").
				WithCause(err).WithProvider(p.cfg.Name),
			false,
		)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return chatmodel.ErrResult(
			gwerr.New(gwerr.CodeUpstreamError, err.Error()).
				WithHTTPStatus(http.StatusBadGateway).WithRetryable(true).WithProvider(p.cfg.Name),
			true,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrorMessage(resp.Body)
		retryable := provider.ClassifyHTTPStatus(resp.StatusCode)
		return chatmodel.ErrResult(
			gwerr.New(gwerr.CodeUpstreamError, msg).
				WithHTTPStatus(resp.StatusCode).WithRetryable(retryable).WithProvider(p.cfg.Name),
			retryable,
		)
	}

	var wr wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return chatmodel.ErrResult(
			gwerr.New(gwerr.CodeUpstreamError, "malformed openai response: "+err.Error()).
				WithHTTPStatus(http.StatusBadGateway).WithRetryable(true).WithProvider(p.cfg.Name),
			true,
		)
	}
	if len(wr.Choices) == 0 {
		return chatmodel.ErrResult(
			gwerr.New(gwerr.CodeUpstreamError, "openai response contained no choices").
				WithHTTPStatus(http.StatusBadGateway).WithRetryable(true).WithProvider(p.cfg.Name),
			true,
		)
	}

	choice := wr.Choices[0]
	return chatmodel.OkResult(&chatmodel.ChatResponse{
		ID:           wr.ID,
		Content:      choice.Message.Content,
		Model:        wr.Model,
		FinishReason: mapFinishReason(choice.FinishReason),
		Usage: chatmodel.Usage{
			PromptTokens:     wr.Usage.PromptTokens,
			CompletionTokens: wr.Usage.CompletionTokens,
			TotalTokens:      wr.Usage.TotalTokens,
		},
	})
}

func (p *Provider) endpoint() string {
	return fmt.Sprintf("%s%s", strings.TrimRight(p.cfg.BaseURL, "/"), defaultPath)
}

func mapFinishReason(reason string) chatmodel.FinishReason {
	switch reason {
	case "length":
		return chatmodel.FinishLength
	case "content_filter":
		return chatmodel.FinishContentFilter
	default:
		return chatmodel.FinishStop
	}
}

func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return "failed to read openai error response"
	}
	var parsed struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return provider.ReadErrorMessage(data)
}
