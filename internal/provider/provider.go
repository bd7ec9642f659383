// Package provider defines the gateway's Provider capability (C1's
// contract) and a name-indexed registry. Concrete vendor adapters live in
// the openai and anthropic subpackages.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/maxpetrusenko/deterministic-llm-service/internal/chatmodel"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/gwerr"
)

// Provider is the uniform capability every vendor adapter implements.
// Chat never panics or throws; all failures are carried in the returned
// ProviderResult.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req chatmodel.ChatRequest) chatmodel.ProviderResult
}

// Registry is a name-indexed set of providers, owned by the orchestrator.
type Registry struct {
	providers map[string]Provider
	def       string
}

// NewRegistry builds a Registry from providers, keyed by each Provider's
// Name(). defaultName must be one of the supplied providers' names.
func NewRegistry(defaultName string, providers ...Provider) *Registry {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Registry{providers: m, def: defaultName}
}

// Resolve returns the named provider, or the registry's default when name
// is empty. Returns a CONFIGURATION error when the name isn't registered.
func (r *Registry) Resolve(name string) (Provider, error) {
	if name == "" {
		name = r.def
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, gwerr.New(gwerr.CodeConfiguration, fmt.Sprintf("Provider not found: %s", name)).
			WithHTTPStatus(http.StatusInternalServerError)
	}
	return p, nil
}

// Names returns every registered provider name, for breaker wiring at
// startup.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	return out
}

// ClassifyHTTPStatus implements spec.md §4.1's shared error classification
// rule: status >= 500 or == 429 is retryable; other statuses with a body
// are not; transport/unknown errors (handled by the caller before this is
// reached) are retryable.
func ClassifyHTTPStatus(status int) (retryable bool) {
	return status >= 500 || status == http.StatusTooManyRequests
}

// ReadErrorMessage extracts a human-readable message from a vendor's error
// response body, falling back to the raw text.
func ReadErrorMessage(body []byte) string {
	s := strings.TrimSpace(string(body))
	if s == "" {
		return "upstream returned no error body"
	}
	return s
}
