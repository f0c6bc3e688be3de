// Package llm adapts LLM provider SDKs into service executors.
//
// A Provider performs exactly one call per Chat. Providers never retry:
// admission and pacing belong to the service that runs them, and retry
// policy belongs to the submitter.
package llm

import (
	"context"
	"sync"

	aerr "github.com/vinayprograms/admitkit/errors"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// ChatRequest is the payload submitted to an LLM service.
type ChatRequest struct {
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`

	// Label and Event key the usage report, e.g. a jurisdiction and
	// the extraction step. Label defaults to the model name.
	Label string `json:"label,omitempty"`
	Event string `json:"event,omitempty"`
}

// ChatResponse is the result of one call.
type ChatResponse struct {
	Content      string `json:"content"`
	StopReason   string `json:"stop_reason"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Model        string `json:"model"`
}

// Provider is the interface for LLM providers.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ProviderConfig selects and configures a provider.
type ProviderConfig struct {
	Provider  string `json:"provider" yaml:"provider" toml:"provider"` // anthropic, openai, google; inferred from Model when empty
	Model     string `json:"model" yaml:"model" toml:"model"`
	APIKey    string `json:"-" yaml:"-" toml:"-"`
	MaxTokens int    `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	BaseURL   string `json:"base_url" yaml:"base_url" toml:"base_url"`
}

// Validate checks the configuration.
func (c *ProviderConfig) Validate() error {
	if c.Provider == "" {
		return aerr.Configuration("llm provider is required")
	}
	return requireSettings(c.Provider, c.APIKey, c.Model, c.MaxTokens)
}

// requireSettings checks what every provider constructor needs.
func requireSettings(provider, apiKey, model string, maxTokens int) error {
	if model == "" {
		return aerr.Configuration("llm model is required for %s", provider)
	}
	if apiKey == "" {
		return aerr.Configuration("llm api key is required for %s", provider)
	}
	if maxTokens <= 0 {
		return aerr.Configuration("llm max_tokens must be positive for %s", provider)
	}
	return nil
}

// --- Mock Provider for Testing ---

// MockProvider is a scripted provider for tests. It is safe for concurrent use.
type MockProvider struct {
	mu           sync.Mutex
	response     string
	model        string
	inputTokens  int
	outputTokens int
	err          error
	lastRequest  *ChatRequest
	callCount    int

	// ChatFunc overrides the scripted response when set.
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// NewMockProvider creates a mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{model: "mock-model"}
}

// SetResponse sets the response content.
func (p *MockProvider) SetResponse(content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.response = content
}

// SetModel sets the reported model name.
func (p *MockProvider) SetModel(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.model = model
}

// SetTokenCounts sets the reported token usage.
func (p *MockProvider) SetTokenCounts(input, output int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputTokens = input
	p.outputTokens = output
}

// SetError makes Chat fail with err.
func (p *MockProvider) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// LastRequest returns the last request.
func (p *MockProvider) LastRequest() *ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRequest
}

// CallCount returns the number of Chat calls made.
func (p *MockProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.callCount
}

// Chat implements Provider.
func (p *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	p.mu.Lock()
	p.callCount++
	p.lastRequest = &req
	fn := p.ChatFunc
	resp := &ChatResponse{
		Content:      p.response,
		StopReason:   "end_turn",
		InputTokens:  p.inputTokens,
		OutputTokens: p.outputTokens,
		Model:        p.model,
	}
	err := p.err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}
