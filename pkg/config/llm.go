package config

import "sync"

// LLMProviderType identifies which backend SDK a provider config targets.
type LLMProviderType string

const (
	LLMProviderTypeAnthropic LLMProviderType = "anthropic"
	LLMProviderTypeGoogle    LLMProviderType = "google"
)

// IsValid reports whether t is one of the known provider types.
func (t LLMProviderType) IsValid() bool {
	switch t {
	case LLMProviderTypeAnthropic, LLMProviderTypeGoogle:
		return true
	default:
		return false
	}
}

// LLMProviderConfig configures a single named LLM provider entry, resolved
// by name from chains/agents/Guardian/Conductor/EmbeddingService config.
type LLMProviderConfig struct {
	Type      LLMProviderType `yaml:"type"`
	Model     string          `yaml:"model"`
	APIKeyEnv string          `yaml:"api_key_env"`
	BaseURL   string          `yaml:"base_url,omitempty"`

	// EmbeddingModel, if set, is used for EmbeddingService.embed calls
	// against this provider instead of Model.
	EmbeddingModel string `yaml:"embedding_model,omitempty"`

	// MaxToolResultTokens is carried in the provider entry as loaded; the
	// validator does not check it and no LLM client reads it.
	MaxToolResultTokens int `yaml:"max_tool_result_tokens"`
}

// LLMProviderRegistry is a read-mostly lookup table of named provider configs,
// built once at startup and shared across Guardian, Conductor, EmbeddingService,
// and task enrichment.
type LLMProviderRegistry struct {
	providers map[string]*LLMProviderConfig
	mu        sync.RWMutex
}

// NewLLMProviderRegistry builds a registry from a name→config map, taking a
// defensive copy so callers cannot mutate registry state through their map.
func NewLLMProviderRegistry(providers map[string]*LLMProviderConfig) *LLMProviderRegistry {
	copied := make(map[string]*LLMProviderConfig, len(providers))
	for name, p := range providers {
		providerCopy := *p
		copied[name] = &providerCopy
	}
	return &LLMProviderRegistry{providers: copied}
}

// Get retrieves a provider configuration by name.
func (r *LLMProviderRegistry) Get(name string) (*LLMProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, ErrLLMProviderNotFound
	}
	providerCopy := *p
	return &providerCopy, nil
}

// GetAll returns a defensive copy of every registered provider, keyed by name.
func (r *LLMProviderRegistry) GetAll() map[string]*LLMProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]*LLMProviderConfig, len(r.providers))
	for name, p := range r.providers {
		providerCopy := *p
		result[name] = &providerCopy
	}
	return result
}

// Has reports whether a provider with the given name is registered.
func (r *LLMProviderRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

// Len returns the number of registered providers.
func (r *LLMProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
