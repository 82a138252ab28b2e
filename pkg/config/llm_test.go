package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLLMProviderType_IsValid(t *testing.T) {
	assert.True(t, LLMProviderTypeAnthropic.IsValid())
	assert.True(t, LLMProviderTypeGoogle.IsValid())
	assert.False(t, LLMProviderType("openai").IsValid())
	assert.False(t, LLMProviderType("").IsValid())
}

func TestLLMProviderRegistry_GetAndHas(t *testing.T) {
	providers := map[string]*LLMProviderConfig{
		"anthropic-default": {Type: LLMProviderTypeAnthropic, Model: "claude-sonnet", APIKeyEnv: "ANTHROPIC_API_KEY"},
	}
	r := NewLLMProviderRegistry(providers)

	assert.True(t, r.Has("anthropic-default"))
	assert.False(t, r.Has("missing"))
	assert.Equal(t, 1, r.Len())

	p, err := r.Get("anthropic-default")
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet", p.Model)

	_, err = r.Get("missing")
	require.ErrorIs(t, err, ErrLLMProviderNotFound)
}

func TestLLMProviderRegistry_DefensiveCopy(t *testing.T) {
	providers := map[string]*LLMProviderConfig{
		"anthropic-default": {Type: LLMProviderTypeAnthropic, Model: "claude-sonnet", APIKeyEnv: "ANTHROPIC_API_KEY"},
	}
	r := NewLLMProviderRegistry(providers)

	// Mutating the caller's source map must not affect the registry.
	providers["anthropic-default"].Model = "mutated"
	p, err := r.Get("anthropic-default")
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet", p.Model)

	// Mutating a value returned by Get must not affect the registry.
	p.Model = "also-mutated"
	p2, err := r.Get("anthropic-default")
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet", p2.Model)

	// Mutating GetAll's returned map must not affect the registry.
	all := r.GetAll()
	delete(all, "anthropic-default")
	assert.Equal(t, 1, r.Len())
}

func TestLLMProviderRegistry_Empty(t *testing.T) {
	r := NewLLMProviderRegistry(nil)
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Has("anything"))
}
