package config

import (
	"errors"
	"fmt"
)

// Validator checks a fully-loaded Config for internal consistency before it
// is handed to any component. Each validateX method is independently
// testable and returns a wrapped ValidationError on the first problem found.
type Validator struct {
	cfg *Config
}

// NewValidator constructs a Validator for cfg.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

func verr(component, field, msg string) error {
	return NewValidationError(component, "", field, errors.New(msg))
}

// ValidateAll runs every section validator in turn, stopping at the first
// failure so the operator sees one actionable error at a time.
func (v *Validator) ValidateAll() error {
	if v.cfg == nil {
		return verr("config", "", "configuration is nil")
	}

	validations := []func() error{
		v.validateQueue,
		v.validateMonitor,
		v.validateGuardian,
		v.validateConductor,
		v.validateSimilarity,
		v.validateDiagnostic,
		v.validateWorktree,
		v.validateVectorIndex,
		v.validateStore,
		v.validateRetention,
		v.validateLLMProviders,
	}

	for _, fn := range validations {
		if err := fn(); err != nil {
			return err
		}
	}

	return nil
}

func (v *Validator) validateQueue() error {
	q := v.cfg.Queue
	if q == nil {
		return verr("queue", "", "queue configuration is nil")
	}

	if q.WorkerCount < 1 || q.WorkerCount > 50 {
		return verr("queue", "worker_count", "worker_count must be between 1 and 50")
	}

	if q.MaxConcurrentAgents < 1 {
		return verr("queue", "max_concurrent_agents", "max_concurrent_agents must be at least 1")
	}

	if q.PollInterval <= 0 {
		return verr("queue", "poll_interval", "poll_interval must be positive")
	}

	if q.PollIntervalJitter < 0 {
		return verr("queue", "poll_interval_jitter", "poll_interval_jitter must be non-negative")
	}

	if q.PollIntervalJitter >= q.PollInterval {
		return verr("queue", "poll_interval_jitter", "poll_interval_jitter must be less than poll_interval")
	}

	if q.AgentTimeout <= 0 {
		return verr("queue", "agent_timeout", "agent_timeout must be positive")
	}

	if q.GracefulShutdownTimeout <= 0 {
		return verr("queue", "graceful_shutdown_timeout", "graceful_shutdown_timeout must be positive")
	}

	if q.OrphanDetectionInterval <= 0 {
		return verr("queue", "orphan_detection_interval", "orphan_detection_interval must be positive")
	}

	if q.OrphanThreshold <= 0 {
		return verr("queue", "orphan_threshold", "orphan_threshold must be positive")
	}

	if q.HeartbeatInterval <= 0 {
		return verr("queue", "heartbeat_interval", "heartbeat_interval must be positive")
	}

	if q.HeartbeatInterval >= q.OrphanThreshold {
		return verr("queue", "heartbeat_interval", "heartbeat_interval must be less than orphan_threshold")
	}

	return nil
}

func (v *Validator) validateMonitor() error {
	m := v.cfg.Monitor
	if m == nil {
		return verr("monitor", "", "monitor configuration is nil")
	}

	if m.TickInterval <= 0 {
		return verr("monitor", "tick_interval", "tick_interval must be positive")
	}

	if m.TmuxOutputLines < 1 {
		return verr("monitor", "tmux_output_lines", "tmux_output_lines must be at least 1")
	}

	return nil
}

func (v *Validator) validateGuardian() error {
	g := v.cfg.Guardian
	if g == nil {
		return verr("guardian", "", "guardian configuration is nil")
	}

	if g.MinAgentAge < 0 {
		return verr("guardian", "min_agent_age", "min_agent_age must be non-negative")
	}

	if g.SteeringThrottle <= 0 {
		return verr("guardian", "steering_throttle", "steering_throttle must be positive")
	}

	if g.PastSummariesLimit < 1 {
		return verr("guardian", "past_summaries_limit", "past_summaries_limit must be at least 1")
	}

	if g.MaxHealthCheckFailures < 1 {
		return verr("guardian", "max_health_check_failures", "max_health_check_failures must be at least 1")
	}

	if g.StuckDetectionThreshold <= 0 {
		return verr("guardian", "stuck_detection_threshold", "stuck_detection_threshold must be positive")
	}

	return nil
}

func (v *Validator) validateConductor() error {
	c := v.cfg.Conductor
	if c == nil {
		return verr("conductor", "", "conductor configuration is nil")
	}

	if c.CoherenceEscalateThreshold < 0 || c.CoherenceEscalateThreshold > 1 {
		return verr("conductor", "coherence_escalate_threshold", "coherence_escalate_threshold must be between 0 and 1")
	}

	return nil
}

func (v *Validator) validateSimilarity() error {
	s := v.cfg.Similarity
	if s == nil {
		return verr("similarity", "", "similarity configuration is nil")
	}

	if s.DuplicateThreshold < 0 || s.DuplicateThreshold > 1 {
		return verr("similarity", "duplicate_threshold", "duplicate_threshold must be between 0 and 1")
	}

	if s.RelatedThreshold < 0 || s.RelatedThreshold > 1 {
		return verr("similarity", "related_threshold", "related_threshold must be between 0 and 1")
	}

	if s.RelatedThreshold >= s.DuplicateThreshold {
		return verr("similarity", "related_threshold", "related_threshold must be less than duplicate_threshold")
	}

	if s.DedupEnabled && s.EmbeddingModel == "" {
		return verr("similarity", "embedding_model", "embedding_model is required when dedup_enabled is true")
	}

	if s.RelatedLimit < 1 {
		return verr("similarity", "related_limit", "related_limit must be at least 1")
	}

	return nil
}

func (v *Validator) validateDiagnostic() error {
	d := v.cfg.Diagnostic
	if d == nil {
		return verr("diagnostic", "", "diagnostic configuration is nil")
	}

	if !d.Enabled {
		return nil
	}

	if d.Cooldown <= 0 {
		return verr("diagnostic", "cooldown", "cooldown must be positive")
	}

	if d.MinStuckTime <= 0 {
		return verr("diagnostic", "min_stuck_time", "min_stuck_time must be positive")
	}

	if d.MaxAgentsToAnalyze < 1 {
		return verr("diagnostic", "max_agents_to_analyze", "max_agents_to_analyze must be at least 1")
	}

	if d.MaxConductorAnalyses < 1 {
		return verr("diagnostic", "max_conductor_analyses", "max_conductor_analyses must be at least 1")
	}

	return nil
}

func (v *Validator) validateWorktree() error {
	w := v.cfg.Worktree
	if w == nil {
		return verr("worktree", "", "worktree configuration is nil")
	}

	if w.MainRepoPath == "" {
		return verr("worktree", "main_repo_path", "main_repo_path is required")
	}

	if w.DefaultBranch == "" {
		return verr("worktree", "default_branch", "default_branch is required")
	}

	if w.WorktreeRoot == "" {
		return verr("worktree", "worktree_root", "worktree_root is required")
	}

	return nil
}

func (v *Validator) validateVectorIndex() error {
	vi := v.cfg.VectorIndex
	if vi == nil {
		return verr("vector_index", "", "vector_index configuration is nil")
	}

	if vi.QdrantURL == "" {
		return verr("vector_index", "qdrant_url", "qdrant_url is required")
	}

	if vi.CollectionName == "" {
		return verr("vector_index", "collection_name", "collection_name is required")
	}

	if vi.VectorSize < 1 {
		return verr("vector_index", "vector_size", "vector_size must be at least 1")
	}

	return nil
}

func (v *Validator) validateStore() error {
	s := v.cfg.Store
	if s == nil {
		return verr("store", "", "store configuration is nil")
	}

	if s.DatabasePath == "" {
		return verr("store", "database_path", "database_path is required")
	}

	return nil
}

func (v *Validator) validateRetention() error {
	r := v.cfg.Retention
	if r == nil {
		return verr("retention", "", "retention configuration is nil")
	}

	if r.TaskRetentionDays < 1 {
		return verr("retention", "task_retention_days", "task_retention_days must be at least 1")
	}

	if r.AgentLogTTL <= 0 {
		return verr("retention", "agent_log_ttl", "agent_log_ttl must be positive")
	}

	if r.WorktreeCleanupDelay < 0 {
		return verr("retention", "worktree_cleanup_delay", "worktree_cleanup_delay must be non-negative")
	}

	if r.CleanupInterval <= 0 {
		return verr("retention", "cleanup_interval", "cleanup_interval must be positive")
	}

	return nil
}

func (v *Validator) validateLLMProviders() error {
	if v.cfg.LLMProviderRegistry == nil {
		return verr("llm_providers", "", "llm provider registry is nil")
	}

	if v.cfg.LLMProviderRegistry.Len() == 0 {
		return verr("llm_providers", "", "at least one llm provider must be configured")
	}

	if v.cfg.DefaultLLMProvider == "" {
		return verr("llm_providers", "default_llm_provider", "default_llm_provider is required")
	}

	if !v.cfg.LLMProviderRegistry.Has(v.cfg.DefaultLLMProvider) {
		return verr("llm_providers", "default_llm_provider", fmt.Sprintf("default_llm_provider %q is not a registered provider", v.cfg.DefaultLLMProvider))
	}

	for name, p := range v.cfg.LLMProviderRegistry.GetAll() {
		if !p.Type.IsValid() {
			return NewValidationError("llm_providers", name, "type", fmt.Errorf("provider has invalid type %q", p.Type))
		}
		if p.Model == "" {
			return NewValidationError("llm_providers", name, "model", errors.New("model is required"))
		}
		if p.APIKeyEnv == "" {
			return NewValidationError("llm_providers", name, "api_key_env", errors.New("api_key_env is required"))
		}
	}

	return nil
}
