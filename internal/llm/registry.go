package llm

import (
	"fmt"
	"strings"
	"sync"

	"amightyclaw/internal/config"
)

const defaultOllamaBaseURL = "http://127.0.0.1:11434/v1"

// Registry resolves profile names to configured backends. Backends are built
// lazily (keys may be encrypted at rest) and cached per profile.
type Registry struct {
	cfg config.Config

	mu       sync.Mutex
	backends map[string]Backend
}

func NewRegistry(cfg config.Config) *Registry {
	return &Registry{cfg: cfg, backends: make(map[string]Backend)}
}

// Lookup returns the backend and profile settings for name. The second
// return is false when no such profile exists.
func (r *Registry) Lookup(name string) (Backend, config.ProfileConfig, bool, error) {
	profile, ok := r.cfg.Profile(name)
	if !ok {
		return nil, config.ProfileConfig{}, false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if backend, ok := r.backends[name]; ok {
		return backend, profile, true, nil
	}
	backend, err := r.build(profile)
	if err != nil {
		return nil, profile, true, fmt.Errorf("profile %q: %w", name, err)
	}
	r.backends[name] = backend
	return backend, profile, true, nil
}

func (r *Registry) build(profile config.ProfileConfig) (Backend, error) {
	apiKey, err := r.cfg.ResolveSecret(profile.APIKey)
	if err != nil {
		return nil, fmt.Errorf("resolve api key: %w", err)
	}
	switch strings.TrimSpace(strings.ToLower(profile.Provider)) {
	case "anthropic":
		return NewAnthropicBackend(apiKey, profile.BaseURL)
	case "openai":
		return NewOpenAIBackend(apiKey, profile.BaseURL)
	case "ollama":
		base := strings.TrimSpace(profile.BaseURL)
		if base == "" {
			base = defaultOllamaBaseURL
		}
		if strings.TrimSpace(apiKey) == "" {
			apiKey = "ollama"
		}
		return NewOpenAIBackend(apiKey, base)
	default:
		return nil, fmt.Errorf("unsupported provider: %q", profile.Provider)
	}
}
