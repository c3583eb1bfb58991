// Package llm contains the completion gateways that turn a rendered prompt into
// candidate SQL text.
package llm

import (
	"context"
	"fmt"
	"strings"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	DefaultAnthropicModel = "claude-sonnet-4-6"
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultMaxTokens      = 1024
)

// Gateway sends one prompt and returns the raw completion text. Implementations
// do not retry; failures come back as *Error.
type Gateway interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Model() string
}

// Options configure a gateway.
type Options struct {
	Provider  string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// New builds the gateway for opts.Provider.
func New(opts Options) (Gateway, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("llm: api key not configured for provider %q", opts.Provider)
	}
	switch strings.ToLower(opts.Provider) {
	case "", ProviderAnthropic:
		return NewAnthropicGateway(opts.APIKey, opts.Model, opts.BaseURL, opts.MaxTokens), nil
	case ProviderOpenAI:
		return NewOpenAIGateway(opts.APIKey, opts.Model, opts.BaseURL, opts.MaxTokens), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", opts.Provider)
	}
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, prompt string) (string, error)

func (f GatewayFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func (f GatewayFunc) Model() string { return "func" }
