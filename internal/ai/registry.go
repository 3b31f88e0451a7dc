package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ProviderFactory builds a provider bound to one credential.
type ProviderFactory func(ctx context.Context, cred Credential, model string) (Provider, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func (r *Registry) Register(name string, f ProviderFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Get(ctx context.Context, name string, cred Credential, model string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s", name)
	}
	return f(ctx, cred, model)
}

// DefaultRegistry registers the built-in providers under "gemini" and "openai".
func DefaultRegistry(openAIBaseURL string) *Registry {
	reg := NewRegistry()
	reg.Register("gemini", func(ctx context.Context, cred Credential, model string) (Provider, error) {
		return NewGeminiProvider(ctx, cred.Secret, model)
	})
	reg.Register("openai", func(_ context.Context, cred Credential, model string) (Provider, error) {
		return NewOpenAIProvider(openAIBaseURL, cred.Secret, model), nil
	})
	return reg
}
