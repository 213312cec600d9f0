package ai

import (
	"context"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"stockpulse/pkg/errors"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

var _ Provider = (*AnthropicProvider)(nil)

// AnthropicProvider implements completions using the official Anthropic Go SDK.
type AnthropicProvider struct {
	client      anthropic.Client
	model       anthropic.Model
	timeout     time.Duration
	rateLimiter RateLimiter
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(apiKey string, timeout time.Duration, limiter RateLimiter) *AnthropicProvider {
	if limiter == nil {
		limiter = NewNoOpLimiter()
	}

	return &AnthropicProvider{
		client:      anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:       anthropic.Model(defaultAnthropicModel),
		timeout:     timeout,
		rateLimiter: limiter,
	}
}

func (p *AnthropicProvider) Name() ProviderName {
	return ProviderNameAnthropic
}

// Complete sends a messages request to the Anthropic API.
func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if err := p.rateLimiter.Wait(ctx); err != nil {
		return "", errors.Wrap(errors.ErrRateLimitExceeded, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", errors.Wrapf(errors.ErrProviderUnavailable, "anthropic API call failed: %v", err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}

	if out.Len() == 0 {
		return "", errors.Wrap(errors.ErrProviderUnavailable, "anthropic returned no text content")
	}

	return out.String(), nil
}
