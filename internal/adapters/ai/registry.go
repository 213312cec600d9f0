package ai

import (
	"strings"
	"sync"

	"stockpulse/pkg/errors"
)

// ProviderRegistry stores all available AI providers.
type ProviderRegistry struct {
	providers map[ProviderName]Provider
	mu        sync.RWMutex
}

// NewProviderRegistry creates an empty registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[ProviderName]Provider),
	}
}

// Register adds a provider to the registry.
func (r *ProviderRegistry) Register(provider Provider) error {
	if provider == nil {
		return errors.Wrap(errors.ErrInvalidInput, "provider is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return errors.Wrapf(errors.ErrInvalidInput, "provider %s already registered", name)
	}

	r.providers[name] = provider
	return nil
}

// Get returns the provider by name.
func (r *ProviderRegistry) Get(name ProviderName) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[name]
	if !ok {
		return nil, errors.Wrapf(errors.ErrProviderUnavailable, "provider %s not registered", name)
	}

	return provider, nil
}

// List returns all registered providers.
func (r *ProviderRegistry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}

	return providers
}

// NormalizeProviderName makes provider lookup more forgiving.
func NormalizeProviderName(name string) ProviderName {
	return ProviderName(strings.ToLower(strings.TrimSpace(name)))
}
