package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxpetrusenko/deterministic-llm-service/internal/chatmodel"
)

type namedStub struct{ name string }

func (s namedStub) Name() string { return s.name }
func (s namedStub) Chat(ctx context.Context, req chatmodel.ChatRequest) chatmodel.ProviderResult {
	return chatmodel.ProviderResult{}
}

func TestRegistry_ResolveReturnsRegisteredProvider(t *testing.T) {
	r := NewRegistry("openai", namedStub{name: "openai"}, namedStub{name: "anthropic"})
	p, err := r.Resolve("anthropic")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
}

func TestRegistry_ResolveEmptyNameUsesDefault(t *testing.T) {
	r := NewRegistry("openai", namedStub{name: "openai"})
	p, err := r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
}

func TestRegistry_ResolveUnknownReturnsConfigurationError(t *testing.T) {
	r := NewRegistry("openai", namedStub{name: "openai"})
	_, err := r.Resolve("mistral")
	require.Error(t, err)
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry("openai", namedStub{name: "openai"}, namedStub{name: "anthropic"})
	assert.ElementsMatch(t, []string{"openai", "anthropic"}, r.Names())
}

func TestClassifyHTTPStatus(t *testing.T) {
	cases := map[int]bool{200: false, 400: false, 404: false, 429: true, 500: true, 503: true}
	for status, want := range cases {
		assert.Equal(t, want, ClassifyHTTPStatus(status), "status %d", status)
	}
}

func TestReadErrorMessage_FallsBackToRawBody(t *testing.T) {
	assert.Equal(t, "not json", ReadErrorMessage([]byte("not json")))
}
