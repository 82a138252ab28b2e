package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// HephaestusYAMLConfig represents the complete hephaestus.yaml file structure.
type HephaestusYAMLConfig struct {
	Queue       *QueueConfig       `yaml:"queue"`
	Monitor     *MonitorConfig     `yaml:"monitor"`
	Guardian    *GuardianConfig    `yaml:"guardian"`
	Conductor   *ConductorConfig   `yaml:"conductor"`
	Similarity  *SimilarityConfig  `yaml:"similarity"`
	Diagnostic  *DiagnosticConfig  `yaml:"diagnostic"`
	Worktree    *WorktreeConfig    `yaml:"worktree"`
	VectorIndex *VectorIndexConfig `yaml:"vector_index"`
	Store       *StoreConfig       `yaml:"store"`
	Retention   *RetentionConfig   `yaml:"retention"`
	AgentCLI    *AgentCLIConfig    `yaml:"agent_cli"`

	DefaultLLMProvider string `yaml:"default_llm_provider"`
}

// LLMProvidersYAMLConfig represents the complete llm-providers.yaml file structure.
type LLMProvidersYAMLConfig struct {
	LLMProviders map[string]LLMProviderConfig `yaml:"llm_providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Merge user-defined values over built-in defaults
//  4. Build the LLM provider registry
//  5. Validate all configuration
//  6. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully", "llm_providers", stats.LLMProviders)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	hephaestusCfg, err := loader.loadHephaestusYAML()
	if err != nil {
		return nil, NewLoadError("hephaestus.yaml", err)
	}

	llmProviders, err := loader.loadLLMProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	queueCfg := DefaultQueueConfig()
	if hephaestusCfg.Queue != nil {
		if err := mergo.Merge(queueCfg, hephaestusCfg.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}

	monitorCfg := DefaultMonitorConfig()
	if hephaestusCfg.Monitor != nil {
		if err := mergo.Merge(monitorCfg, hephaestusCfg.Monitor, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge monitor config: %w", err)
		}
	}

	guardianCfg := DefaultGuardianConfig()
	if hephaestusCfg.Guardian != nil {
		if err := mergo.Merge(guardianCfg, hephaestusCfg.Guardian, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge guardian config: %w", err)
		}
	}

	conductorCfg := DefaultConductorConfig()
	if hephaestusCfg.Conductor != nil {
		if err := mergo.Merge(conductorCfg, hephaestusCfg.Conductor, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge conductor config: %w", err)
		}
	}

	similarityCfg := DefaultSimilarityConfig()
	if hephaestusCfg.Similarity != nil {
		if err := mergo.Merge(similarityCfg, hephaestusCfg.Similarity, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge similarity config: %w", err)
		}
	}

	diagnosticCfg := DefaultDiagnosticConfig()
	if hephaestusCfg.Diagnostic != nil {
		if err := mergo.Merge(diagnosticCfg, hephaestusCfg.Diagnostic, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge diagnostic config: %w", err)
		}
	}

	worktreeCfg := DefaultWorktreeConfig()
	if hephaestusCfg.Worktree != nil {
		if err := mergo.Merge(worktreeCfg, hephaestusCfg.Worktree, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge worktree config: %w", err)
		}
	}

	vectorIndexCfg := DefaultVectorIndexConfig()
	if hephaestusCfg.VectorIndex != nil {
		if err := mergo.Merge(vectorIndexCfg, hephaestusCfg.VectorIndex, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge vector index config: %w", err)
		}
	}

	retentionCfg := DefaultRetentionConfig()
	if hephaestusCfg.Retention != nil {
		if err := mergo.Merge(retentionCfg, hephaestusCfg.Retention, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge retention config: %w", err)
		}
	}

	storeCfg := hephaestusCfg.Store
	if storeCfg == nil {
		storeCfg = &StoreConfig{}
	}

	agentCLICfg := DefaultAgentCLIConfig()
	if hephaestusCfg.AgentCLI != nil {
		if err := mergo.Merge(agentCLICfg, hephaestusCfg.AgentCLI, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge agent cli config: %w", err)
		}
	}

	providers := make(map[string]*LLMProviderConfig, len(llmProviders))
	for name, p := range llmProviders {
		providerCopy := p
		providers[name] = &providerCopy
	}

	return &Config{
		configDir:           configDir,
		Queue:               queueCfg,
		Monitor:             monitorCfg,
		Guardian:            guardianCfg,
		Conductor:           conductorCfg,
		Similarity:          similarityCfg,
		Diagnostic:          diagnosticCfg,
		Worktree:            worktreeCfg,
		VectorIndex:         vectorIndexCfg,
		Store:               storeCfg,
		Retention:           retentionCfg,
		AgentCLI:            agentCLICfg,
		LLMProviderRegistry: NewLLMProviderRegistry(providers),
		DefaultLLMProvider:  hephaestusCfg.DefaultLLMProvider,
	}, nil
}

func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using shell-style syntax before parsing.
	// Missing variables expand to empty string; validation catches the rest.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadHephaestusYAML() (*HephaestusYAMLConfig, error) {
	var cfg HephaestusYAMLConfig
	if err := l.loadYAML("hephaestus.yaml", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *configLoader) loadLLMProvidersYAML() (map[string]LLMProviderConfig, error) {
	var cfg LLMProvidersYAMLConfig
	cfg.LLMProviders = make(map[string]LLMProviderConfig)
	if err := l.loadYAML("llm-providers.yaml", &cfg); err != nil {
		return nil, err
	}
	return cfg.LLMProviders, nil
}
