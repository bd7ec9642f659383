// Package chatmodel defines the gateway's vendor-neutral chat completion
// types. These are the types every provider adapter translates into and
// out of, and the types the route layer validates against.
package chatmodel

// Role is the speaker of a single message in a chat conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a ChatRequest's conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the gateway's canonical request shape. Once constructed by
// the route layer it is never mutated by downstream components.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"maxTokens,omitempty"`
	TimeoutMS   *int      `json:"timeout,omitempty"`
	Provider    string    `json:"provider,omitempty"`
}

// FinishReason enumerates why a provider stopped generating.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
)

// Usage reports token accounting for a completion. Fields default to 0 when
// a vendor omits them (§4.1).
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// ChatResponse is the gateway's canonical response shape, immutable once
// built by a provider adapter.
type ChatResponse struct {
	ID           string       `json:"id"`
	Content      string       `json:"content"`
	Model        string       `json:"model"`
	FinishReason FinishReason `json:"finishReason"`
	Usage        Usage        `json:"usage"`
}

// ProviderResult is the tagged variant a provider's Chat method returns
// instead of throwing: either a successful ChatResponse, or a classified
// error. A provider must never set both a response and an error.
type ProviderResult struct {
	Response  *ChatResponse
	Err       error
	Retryable bool
}

// Ok reports whether the result carries a successful response.
func (r ProviderResult) Ok() bool { return r.Err == nil && r.Response != nil }

// OkResult builds a successful ProviderResult.
func OkResult(resp *ChatResponse) ProviderResult {
	return ProviderResult{Response: resp}
}

// ErrResult builds a failed ProviderResult.
func ErrResult(err error, retryable bool) ProviderResult {
	return ProviderResult{Err: err, Retryable: retryable}
}
