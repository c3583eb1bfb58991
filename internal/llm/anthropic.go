package llm

import (
	"context"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog/log"
)

// AnthropicGateway wraps the Anthropic SDK for single-turn SQL completion
type AnthropicGateway struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropicGateway creates a gateway backed by Anthropic Claude or a compatible proxy
func NewAnthropicGateway(apiKey, model, baseURL string, maxTokens int) *AnthropicGateway {
	if model == "" {
		model = DefaultAnthropicModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicGateway{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (g *AnthropicGateway) Model() string { return g.model }

// Complete sends the prompt as a single user turn at temperature 0.
func (g *AnthropicGateway) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	params := anthropic.MessageNewParams{
		Model:       anthropic.F(anthropic.Model(g.model)),
		MaxTokens:   anthropic.F(int64(g.maxTokens)),
		Temperature: anthropic.F(0.0),
		Messages: anthropic.F([]anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		}),
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return "", ClassifyError(err, g.model)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if b, ok := block.AsUnion().(anthropic.TextBlock); ok {
			text.WriteString(b.Text)
		}
	}

	log.Debug().
		Str("model", g.model).
		Str("stop_reason", string(resp.StopReason)).
		Int("chars", text.Len()).
		Dur("duration", time.Since(start)).
		Msg("completion")

	if strings.TrimSpace(text.String()) == "" {
		return "", ClassifyError(ErrEmptyResponse, g.model)
	}
	return text.String(), nil
}
