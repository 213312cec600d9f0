package ai

import (
	"context"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"stockpulse/pkg/errors"
)

const defaultOpenAIModel = openai.ChatModelGPT4oMini

var _ Provider = (*OpenAIProvider)(nil)

// OpenAIProvider implements completions using the official OpenAI Go SDK.
type OpenAIProvider struct {
	client      openai.Client // NewClient returns Client (not *Client)
	model       openai.ChatModel
	timeout     time.Duration
	rateLimiter RateLimiter
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(apiKey string, timeout time.Duration, limiter RateLimiter) *OpenAIProvider {
	if limiter == nil {
		limiter = NewNoOpLimiter()
	}

	return &OpenAIProvider{
		client:      openai.NewClient(option.WithAPIKey(apiKey)),
		model:       defaultOpenAIModel,
		timeout:     timeout,
		rateLimiter: limiter,
	}
}

func (p *OpenAIProvider) Name() ProviderName {
	return ProviderNameOpenAI
}

// Complete sends a chat completion request to the OpenAI API.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if err := p.rateLimiter.Wait(ctx); err != nil {
		return "", errors.Wrap(errors.ErrRateLimitExceeded, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", errors.Wrapf(errors.ErrProviderUnavailable, "openai API call failed: %v", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.Wrap(errors.ErrProviderUnavailable, "openai returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}
