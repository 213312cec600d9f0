package ai

import (
	"context"

	"golang.org/x/time/rate"

	"stockpulse/pkg/errors"
)

// RateLimiter gates provider requests.
type RateLimiter interface {
	// Wait blocks until a request can proceed or the context is cancelled.
	Wait(ctx context.Context) error

	// Allow checks if a request can proceed without blocking.
	Allow() bool
}

// Limiter wraps x/time/rate with per-provider context in errors.
type Limiter struct {
	limiter  *rate.Limiter
	provider ProviderName
}

// NewLimiter creates a rate limiter from a per-minute budget.
func NewLimiter(provider ProviderName, reqPerMinute int, burst int) *Limiter {
	rps := float64(reqPerMinute) / 60.0
	if burst < 1 {
		burst = 1
	}

	return &Limiter{
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		provider: provider,
	}
}

// Wait blocks until the rate limiter allows the request.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return errors.Wrapf(err, "rate limiter wait for provider %s", l.provider)
	}
	return nil
}

// Allow checks if a request is allowed without blocking.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// NoOpLimiter never blocks, for tests or disabled rate limiting.
type NoOpLimiter struct{}

func NewNoOpLimiter() *NoOpLimiter { return &NoOpLimiter{} }

func (l *NoOpLimiter) Wait(ctx context.Context) error { return nil }

func (l *NoOpLimiter) Allow() bool { return true }
