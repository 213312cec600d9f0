package ai

import (
	"context"
	"time"

	"google.golang.org/genai"

	"stockpulse/pkg/errors"
)

const defaultGeminiModel = "gemini-2.0-flash"

var _ Provider = (*GeminiProvider)(nil)

// GeminiProvider implements completions using the Google GenAI SDK.
type GeminiProvider struct {
	client      *genai.Client
	model       string
	timeout     time.Duration
	rateLimiter RateLimiter
}

// NewGeminiProvider creates a Gemini provider.
func NewGeminiProvider(ctx context.Context, apiKey string, timeout time.Duration, limiter RateLimiter) (*GeminiProvider, error) {
	if limiter == nil {
		limiter = NewNoOpLimiter()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrapf(errors.ErrProviderUnavailable, "failed to create gemini client: %v", err)
	}

	return &GeminiProvider{
		client:      client,
		model:       defaultGeminiModel,
		timeout:     timeout,
		rateLimiter: limiter,
	}, nil
}

func (p *GeminiProvider) Name() ProviderName {
	return ProviderNameGoogle
}

// Complete sends a generate content request to the Gemini API.
func (p *GeminiProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if err := p.rateLimiter.Wait(ctx); err != nil {
		return "", errors.Wrap(errors.ErrRateLimitExceeded, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cfg := &genai.GenerateContentConfig{}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return "", errors.Wrapf(errors.ErrProviderUnavailable, "gemini API call failed: %v", err)
	}

	text := resp.Text()
	if text == "" {
		return "", errors.Wrap(errors.ErrProviderUnavailable, "gemini returned no text content")
	}

	return text, nil
}
