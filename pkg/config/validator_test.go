package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	providers := map[string]*LLMProviderConfig{
		"anthropic-default": {
			Type:      LLMProviderTypeAnthropic,
			Model:     "claude-sonnet",
			APIKeyEnv: "ANTHROPIC_API_KEY",
		},
	}

	return &Config{
		configDir:           "/etc/hephaestus",
		Queue:               DefaultQueueConfig(),
		Monitor:             DefaultMonitorConfig(),
		Guardian:            DefaultGuardianConfig(),
		Conductor:           DefaultConductorConfig(),
		Similarity:          DefaultSimilarityConfig(),
		Diagnostic:          DefaultDiagnosticConfig(),
		Worktree:            &WorktreeConfig{MainRepoPath: "/repo", DefaultBranch: "main", BranchPrefix: "hephaestus/", WorktreeRoot: "/var/lib/hephaestus/worktrees"},
		VectorIndex:         &VectorIndexConfig{QdrantURL: "http://localhost:6334", CollectionName: "hephaestus_tickets", VectorSize: 1536},
		Store:               &StoreConfig{DatabasePath: "postgres://localhost/hephaestus"},
		Retention:           DefaultRetentionConfig(),
		LLMProviderRegistry: NewLLMProviderRegistry(providers),
		DefaultLLMProvider:  "anthropic-default",
	}
}

func TestValidateAll_Valid(t *testing.T) {
	v := NewValidator(validConfig())
	require.NoError(t, v.ValidateAll())
}

func TestValidateAll_NilConfig(t *testing.T) {
	v := NewValidator(nil)
	err := v.ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration is nil")
}

func TestValidateConductor(t *testing.T) {
	tests := []struct {
		name      string
		conductor *ConductorConfig
		wantErr   string
	}{
		{name: "nil", conductor: nil, wantErr: "conductor configuration is nil"},
		{name: "threshold too low", conductor: &ConductorConfig{CoherenceEscalateThreshold: -0.1}, wantErr: "coherence_escalate_threshold must be between 0 and 1"},
		{name: "threshold too high", conductor: &ConductorConfig{CoherenceEscalateThreshold: 1.1}, wantErr: "coherence_escalate_threshold must be between 0 and 1"},
		{name: "valid", conductor: DefaultConductorConfig(), wantErr: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Conductor = tt.conductor
			v := NewValidator(cfg)
			err := v.validateConductor()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateSimilarity(t *testing.T) {
	tests := []struct {
		name       string
		similarity *SimilarityConfig
		wantErr    string
	}{
		{name: "nil", similarity: nil, wantErr: "similarity configuration is nil"},
		{
			name:       "related threshold above duplicate threshold",
			similarity: &SimilarityConfig{DedupEnabled: true, DuplicateThreshold: 0.70, RelatedThreshold: 0.85, EmbeddingModel: "m", RelatedLimit: 10},
			wantErr:    "related_threshold must be less than duplicate_threshold",
		},
		{
			name:       "dedup enabled without embedding model",
			similarity: &SimilarityConfig{DedupEnabled: true, DuplicateThreshold: 0.85, RelatedThreshold: 0.70, RelatedLimit: 10},
			wantErr:    "embedding_model is required",
		},
		{
			name:       "related limit zero",
			similarity: &SimilarityConfig{DedupEnabled: false, DuplicateThreshold: 0.85, RelatedThreshold: 0.70, RelatedLimit: 0},
			wantErr:    "related_limit must be at least 1",
		},
		{name: "valid defaults", similarity: DefaultSimilarityConfig(), wantErr: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Similarity = tt.similarity
			v := NewValidator(cfg)
			err := v.validateSimilarity()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateDiagnostic_DisabledSkipsChecks(t *testing.T) {
	cfg := validConfig()
	cfg.Diagnostic = &DiagnosticConfig{Enabled: false}
	v := NewValidator(cfg)
	require.NoError(t, v.validateDiagnostic())
}

func TestValidateWorktree_MissingMainRepoPath(t *testing.T) {
	cfg := validConfig()
	cfg.Worktree = &WorktreeConfig{DefaultBranch: "main", WorktreeRoot: "/tmp"}
	v := NewValidator(cfg)
	err := v.validateWorktree()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "main_repo_path is required")
}

func TestValidateVectorIndex_MissingQdrantURL(t *testing.T) {
	cfg := validConfig()
	cfg.VectorIndex = &VectorIndexConfig{CollectionName: "x", VectorSize: 1536}
	v := NewValidator(cfg)
	err := v.validateVectorIndex()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "qdrant_url is required")
}

func TestValidateStore_MissingDatabasePath(t *testing.T) {
	cfg := validConfig()
	cfg.Store = &StoreConfig{}
	v := NewValidator(cfg)
	err := v.validateStore()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database_path is required")
}

func TestValidateRetention_ZeroCleanupInterval(t *testing.T) {
	cfg := validConfig()
	r := DefaultRetentionConfig()
	r.CleanupInterval = 0
	cfg.Retention = r
	v := NewValidator(cfg)
	err := v.validateRetention()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cleanup_interval must be positive")
}

func TestValidateLLMProviders(t *testing.T) {
	t.Run("no providers configured", func(t *testing.T) {
		cfg := validConfig()
		cfg.LLMProviderRegistry = NewLLMProviderRegistry(nil)
		v := NewValidator(cfg)
		err := v.validateLLMProviders()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one llm provider must be configured")
	})

	t.Run("default provider not registered", func(t *testing.T) {
		cfg := validConfig()
		cfg.DefaultLLMProvider = "missing"
		v := NewValidator(cfg)
		err := v.validateLLMProviders()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"missing" is not a registered provider`)
	})

	t.Run("provider missing model", func(t *testing.T) {
		cfg := validConfig()
		cfg.LLMProviderRegistry = NewLLMProviderRegistry(map[string]*LLMProviderConfig{
			"anthropic-default": {Type: LLMProviderTypeAnthropic, APIKeyEnv: "ANTHROPIC_API_KEY"},
		})
		v := NewValidator(cfg)
		err := v.validateLLMProviders()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "model is required")
	})

	t.Run("provider invalid type", func(t *testing.T) {
		cfg := validConfig()
		cfg.LLMProviderRegistry = NewLLMProviderRegistry(map[string]*LLMProviderConfig{
			"anthropic-default": {Type: "openai", Model: "gpt", APIKeyEnv: "OPENAI_API_KEY"},
		})
		v := NewValidator(cfg)
		err := v.validateLLMProviders()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid type")
	})
}
