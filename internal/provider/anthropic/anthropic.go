// Package anthropic adapts the gateway's uniform chat contract to the
// Anthropic Messages API wire format. Grounded on the teacher's
// providers/anthropic (claude package): x-api-key + anthropic-version
// headers, a system message lifted out of the message list into a
// top-level field, and content blocks instead of a flat string — narrowed
// here to this gateway's text-only request/response shape.
package anthropic

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
	defaultBaseURL        = "https://api.anthropic.com"
	defaultPath           = "/v1/messages"
	defaultTimeout        = 60 * time.Second
	anthropicVersion      = "2023-06-01"
	defaultMaxTokensValue = 4096
)

// Config configures the Anthropic adapter.
type Config struct {
	Name         string // registry name; defaults to "anthropic"
	APIKey       string
	BaseURL      string // defaults to defaultBaseURL
	DefaultModel string
	Timeout      time.Duration
}

// Provider is the Anthropic-shaped chat completions adapter.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New creates a Provider from cfg.
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.Name == "" {
		cfg.Name = "anthropic"
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
	System      string        `json:"system,omitempty"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type wireContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type wireResponse struct {
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	Content    []wireContentBlock `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      wireUsage          `json:"usage"`
}

// Chat implements provider.Provider.
func (p *Provider) Chat(ctx context.Context, req chatmodel.ChatRequest) chatmodel.ProviderResult {
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}

	system, msgs := splitSystem(req.Messages)

	maxTokens := defaultMaxTokensValue
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}

	body := wireRequest{
		Model:       model,
		Messages:    msgs,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return chatmodel.ErrResult(
			gwerr.New(gwerr.CodeInternal, "failed to marshal anthropic request").
				WithCause(err).WithProvider(p.cfg.Name),
			false,
		)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return chatmodel.ErrResult(
			gwerr.New(gwerr.CodeInternal, "failed to build anthropic request").
				WithCause(err).WithProvider(p.cfg.Name),
			false,
		)
	}
	httpReq.Header.Set("x-api-key", p.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
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
			gwerr.New(gwerr.CodeUpstreamError, "malformed anthropic response: "+err.Error()).
				WithHTTPStatus(http.StatusBadGateway).WithRetryable(true).WithProvider(p.cfg.Name),
			true,
		)
	}

	var text strings.Builder
	for _, block := range wr.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return chatmodel.OkResult(&chatmodel.ChatResponse{
		ID:           wr.ID,
		Content:      text.String(),
		Model:        wr.Model,
		FinishReason: mapStopReason(wr.StopReason),
		Usage: chatmodel.Usage{
			PromptTokens:     wr.Usage.InputTokens,
			CompletionTokens: wr.Usage.OutputTokens,
			TotalTokens:      wr.Usage.InputTokens + wr.Usage.OutputTokens,
		},
	})
}

func (p *Provider) endpoint() string {
	return fmt.Sprintf("%s%s", strings.TrimRight(p.cfg.BaseURL, "/"), defaultPath)
}

// splitSystem lifts the first system-role message out of msgs into a
// top-level system directive, matching Anthropic's wire contract; any
// further system messages are dropped. The remaining messages keep their
// order.
func splitSystem(msgs []chatmodel.Message) (string, []wireMessage) {
	var system string
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == chatmodel.RoleSystem {
			if system == "" {
				system = m.Content
			}
			continue
		}
		out = append(out, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	return system, out
}

func mapStopReason(reason string) chatmodel.FinishReason {
	switch reason {
	case "max_tokens":
		return chatmodel.FinishLength
	case "stop_sequence", "end_turn":
		return chatmodel.FinishStop
	case "content_filter":
		return chatmodel.FinishContentFilter
	default:
		return chatmodel.FinishStop
	}
}

func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return "failed to read anthropic error response"
	}
	var parsed struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return provider.ReadErrorMessage(data)
}
