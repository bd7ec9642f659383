// Package orchestrator composes the reliability pipeline (retry, circuit
// breaker, optional coalescing) in front of the provider registry into a
// single chat operation, following the composition order of spec.md §4.7:
// retry wraps (optional coalescer wraps) breaker wraps provider.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/maxpetrusenko/deterministic-llm-service/internal/breaker"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/chatmodel"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/coalesce"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/gwerr"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/provider"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/retry"
)

// Orchestrator is C7: it owns the provider registry, one breaker per
// provider, the retry driver, and an optional coalescer.
type Orchestrator struct {
	registry  *provider.Registry
	breakers  map[string]*breaker.Breaker
	retry     *retry.Driver
	coalescer *coalesce.Coalescer // nil disables coalescing
	logger    *zap.Logger
}

// New builds an Orchestrator. breakers must have one entry per name in
// registry.Names(). coalescer may be nil.
func New(
	registry *provider.Registry,
	breakers map[string]*breaker.Breaker,
	retryDriver *retry.Driver,
	coalescer *coalesce.Coalescer,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		registry:  registry,
		breakers:  breakers,
		retry:     retryDriver,
		coalescer: coalescer,
		logger:    logger,
	}
}

// Chat implements spec.md §4.7's exact four-step algorithm.
func (o *Orchestrator) Chat(ctx context.Context, req chatmodel.ChatRequest, providerName string) (*chatmodel.ChatResponse, error) {
	p, err := o.registry.Resolve(providerName)
	if err != nil {
		return nil, err
	}

	b, ok := o.breakers[p.Name()]
	if !ok {
		return nil, gwerr.New(gwerr.CodeConfiguration, fmt.Sprintf("no circuit breaker configured for provider: %s", p.Name())).
			WithHTTPStatus(500)
	}

	call := func(ctx context.Context) (chatmodel.ProviderResult, error) {
		return o.fireBreaker(ctx, b, p, req)
	}
	if o.coalescer != nil {
		key := fingerprint(p.Name(), req)
		innerCall := call
		call = func(ctx context.Context) (chatmodel.ProviderResult, error) {
			v, err, _ := o.coalescer.Execute(key, func() (any, error) {
				res, err := innerCall(ctx)
				return res, err
			})
			if err != nil {
				return chatmodel.ProviderResult{}, err
			}
			return v.(chatmodel.ProviderResult), nil
		}
	}

	result, err := retry.Do(ctx, o.retry, call, classify)
	if err != nil {
		if ctx.Err() != nil {
			// The per-request timeout (or an explicit cancellation) elapsed;
			// per §7 item 6 this is non-retryable at the orchestrator
			// boundary regardless of how far into the retry budget it hit.
			return nil, gwerr.New(gwerr.CodeTimeout, "request timed out").
				WithHTTPStatus(http.StatusGatewayTimeout).WithRetryable(false).WithCause(err)
		}
		return nil, err
	}
	if !result.Ok() {
		return nil, result.Err
	}
	return result.Response, nil
}

// fireBreaker runs the breaker-protected provider call and translates its
// outcome (including the Open/timeout fallbacks) into a ProviderResult, per
// §4.7 step 2.
func (o *Orchestrator) fireBreaker(ctx context.Context, b *breaker.Breaker, p provider.Provider, req chatmodel.ChatRequest) (chatmodel.ProviderResult, error) {
	var captured chatmodel.ProviderResult
	proceeded, ok, err := b.Fire(ctx, func(callCtx context.Context) (bool, error) {
		captured = p.Chat(callCtx, req)
		return captured.Ok(), nil
	})

	if !proceeded {
		return chatmodel.ErrResult(
			gwerr.New(gwerr.CodeCircuitOpen, breaker.OpenMessage).
				WithHTTPStatus(503).WithRetryable(true).WithProvider(p.Name()),
			true,
		), nil
	}

	if err != nil {
		// context deadline from the breaker's own per-call timeout (§4.3).
		// Non-retryable per §7 item 6: only the breaker-open fallback above
		// stays retryable, a timeout itself never does.
		return chatmodel.ErrResult(
			gwerr.New(gwerr.CodeTimeout, err.Error()).
				WithHTTPStatus(504).WithRetryable(false).WithProvider(p.Name()),
			false,
		), nil
	}

	if ok {
		return captured, nil
	}
	return captured, nil
}

// classify implements the retry driver's classifier for a ProviderResult:
// success never retries; a retryable failure retries; a non-retryable
// failure short-circuits, matching §4.7 step 3.
func classify(result chatmodel.ProviderResult, err error) (bool, string) {
	if err != nil {
		return true, err.Error()
	}
	if result.Ok() {
		return false, ""
	}
	return result.Retryable, result.Err.Error()
}

type fingerprintBody struct {
	Provider    string              `json:"provider"`
	Model       string              `json:"model"`
	Messages    []chatmodel.Message `json:"messages"`
	Temperature *float64            `json:"temperature,omitempty"`
	MaxTokens   *int                `json:"maxTokens,omitempty"`
}

// fingerprint builds the canonical coalescing key of spec.md §4.7's final
// paragraph: a fixed-field-order marshal over the request shape, so two
// structurally identical requests always produce the same key regardless
// of map iteration order (the struct has no maps).
func fingerprint(providerName string, req chatmodel.ChatRequest) string {
	body := fingerprintBody{
		Provider:    providerName,
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return providerName + ":" + req.Model
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
