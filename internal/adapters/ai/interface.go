package ai

import "context"

// ProviderName identifies an AI provider implementation.
type ProviderName string

const (
	ProviderNameOpenAI    ProviderName = "openai"
	ProviderNameAnthropic ProviderName = "anthropic"
	ProviderNameGoogle    ProviderName = "gemini"
)

// Provider defines the contract each AI provider implementation must satisfy.
type Provider interface {
	Name() ProviderName

	// Complete sends a single-turn completion request and returns the
	// generated text.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionRequest is a single-turn prompt with an optional system message.
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}
