package ai

import (
	"context"
	"time"

	"stockpulse/internal/adapters/config"
	"stockpulse/pkg/errors"
)

// BuildRegistry initializes a ProviderRegistry with all providers that have
// credentials configured. Returns ErrProviderUnavailable when none do.
func BuildRegistry(ctx context.Context, cfg config.AIConfig) (*ProviderRegistry, error) {
	registry := NewProviderRegistry()

	if cfg.OpenAIKey != "" {
		limiter := NewLimiter(ProviderNameOpenAI, cfg.ReqPerMinute, cfg.Burst)
		if err := registry.Register(NewOpenAIProvider(cfg.OpenAIKey, defaultTimeout(), limiter)); err != nil {
			return nil, err
		}
	}

	if cfg.ClaudeKey != "" {
		limiter := NewLimiter(ProviderNameAnthropic, cfg.ReqPerMinute, cfg.Burst)
		if err := registry.Register(NewAnthropicProvider(cfg.ClaudeKey, defaultTimeout(), limiter)); err != nil {
			return nil, err
		}
	}

	if cfg.GeminiKey != "" {
		limiter := NewLimiter(ProviderNameGoogle, cfg.ReqPerMinute, cfg.Burst)
		provider, err := NewGeminiProvider(ctx, cfg.GeminiKey, defaultTimeout(), limiter)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(provider); err != nil {
			return nil, err
		}
	}

	if len(registry.List()) == 0 {
		return nil, errors.Wrap(errors.ErrProviderUnavailable, "no AI provider credentials configured")
	}

	return registry, nil
}

func defaultTimeout() time.Duration {
	return 60 * time.Second
}
