package llmclient

import (
	"fmt"

	"github.com/kadirpekel/promptengine/pkg/config"
	"github.com/kadirpekel/promptengine/pkg/registry"
)

// Registry holds every configured Provider, keyed by its configured
// name (not its type) — a deployment can register "fast" and "careful"
// as two different temperature/model configurations of the same
// provider type. Grounded on the teacher's pkg/llms/registry.go
// LLMRegistry, narrowed to this engine's single Provider interface.
type Registry struct {
	*registry.BaseRegistry[Provider]
}

// NewRegistry builds an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Provider]()}
}

// CreateFromConfig builds a Provider from cfg, registers it under
// cfg.Name, and returns it. Mirrors the teacher's
// LLMRegistry.CreateLLMFromConfig type-switch factory.
func (r *Registry) CreateFromConfig(cfg config.LLMConfig) (Provider, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("llmclient: provider name cannot be empty")
	}

	var provider Provider
	var err error

	switch cfg.Type {
	case "ollama":
		provider, err = NewOllamaProvider(cfg)
	case "openai":
		provider, err = NewOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("llmclient: unsupported provider type %q (supported: ollama, openai)", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("llmclient: create provider %q: %w", cfg.Name, err)
	}

	if err := r.Register(cfg.Name, provider); err != nil {
		return nil, fmt.Errorf("llmclient: register provider %q: %w", cfg.Name, err)
	}
	return provider, nil
}

// Resolve looks up a registered provider by name, returning an error
// (not a bool) since every call site needs an explanatory message for
// a missing provider_choice (§6.1).
func (r *Registry) Resolve(name string) (Provider, error) {
	p, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("llmclient: provider %q not registered", name)
	}
	return p, nil
}
