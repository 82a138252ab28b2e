package config

import "time"

// MonitorConfig controls the MonitorLoop tick cadence and the amount of
// terminal output captured for each agent per tick.
type MonitorConfig struct {
	// TickInterval is the period T of the monitor loop (§4.8).
	TickInterval time.Duration `yaml:"tick_interval"`

	// TmuxOutputLines is how many trailing lines are captured per agent
	// per tick for Guardian analysis.
	TmuxOutputLines int `yaml:"tmux_output_lines"`
}

// DefaultMonitorConfig returns the built-in monitor defaults.
func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		TickInterval:    30 * time.Second,
		TmuxOutputLines: 200,
	}
}

// GuardianConfig controls per-agent trajectory analysis.
type GuardianConfig struct {
	// MinAgentAge is the grace period before a newly spawned agent is
	// eligible for Guardian analysis.
	MinAgentAge time.Duration `yaml:"min_agent_age"`

	// SteeringThrottle is the minimum interval between two Guardian
	// steering messages sent to the same agent (invariant 10, §8).
	SteeringThrottle time.Duration `yaml:"steering_throttle"`

	// PastSummariesLimit bounds how many prior GuardianAnalysis rows are
	// loaded as context for the next analysis (§4.6 step 2).
	PastSummariesLimit int `yaml:"past_summaries_limit"`

	// MaxHealthCheckFailures is the ceiling Guardian clamps an agent's
	// accumulated HealthCheckFailures to; reaching it triggers nothing.
	MaxHealthCheckFailures int `yaml:"max_health_check_failures"`

	// StuckDetectionThreshold is validated to be positive; Guardian does
	// not read it, and the "stuck" verdict comes from the LLM analysis alone.
	StuckDetectionThreshold time.Duration `yaml:"stuck_detection_threshold"`
}

// DefaultGuardianConfig returns the built-in Guardian defaults.
func DefaultGuardianConfig() *GuardianConfig {
	return &GuardianConfig{
		MinAgentAge:             60 * time.Second,
		SteeringThrottle:        5 * time.Minute,
		PastSummariesLimit:      10,
		MaxHealthCheckFailures:  5,
		StuckDetectionThreshold: 10 * time.Minute,
	}
}

// ConductorConfig controls system-wide coherence analysis.
type ConductorConfig struct {
	// Enabled turns the Conductor pass off entirely (Guardian still runs).
	Enabled bool `yaml:"enabled"`

	// CoherenceEscalateThreshold is the coherence_score below which an
	// escalate decision is logged (§4.7).
	CoherenceEscalateThreshold float64 `yaml:"coherence_escalate_threshold"`
}

// DefaultConductorConfig returns the built-in Conductor defaults.
func DefaultConductorConfig() *ConductorConfig {
	return &ConductorConfig{
		Enabled:                    true,
		CoherenceEscalateThreshold: 0.5,
	}
}

// SimilarityConfig controls embedding-based task deduplication.
type SimilarityConfig struct {
	DedupEnabled       bool    `yaml:"dedup_enabled"`
	DuplicateThreshold float64 `yaml:"duplicate_threshold"`
	RelatedThreshold   float64 `yaml:"related_threshold"`
	EmbeddingModel     string  `yaml:"embedding_model"`
	RelatedLimit       int     `yaml:"related_limit"`
}

// DefaultSimilarityConfig returns the built-in similarity defaults, matching
// the exact thresholds named in spec §4.3 (DUP=0.85, REL=0.70).
func DefaultSimilarityConfig() *SimilarityConfig {
	return &SimilarityConfig{
		DedupEnabled:       true,
		DuplicateThreshold: 0.85,
		RelatedThreshold:   0.70,
		EmbeddingModel:     "text-embedding-default",
		RelatedLimit:       10,
	}
}

// DiagnosticConfig controls the stuck-workflow diagnostic (§4.9).
type DiagnosticConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Cooldown             time.Duration `yaml:"cooldown"`
	MinStuckTime         time.Duration `yaml:"min_stuck_time"`
	MaxAgentsToAnalyze   int           `yaml:"max_agents_to_analyze"`
	MaxConductorAnalyses int           `yaml:"max_conductor_analyses"`
}

// DefaultDiagnosticConfig returns the built-in diagnostic defaults.
func DefaultDiagnosticConfig() *DiagnosticConfig {
	return &DiagnosticConfig{
		Enabled:              true,
		Cooldown:             60 * time.Second,
		MinStuckTime:         60 * time.Second,
		MaxAgentsToAnalyze:   10,
		MaxConductorAnalyses: 5,
	}
}

// WorktreeConfig controls git worktree isolation (§4.4).
type WorktreeConfig struct {
	// MainRepoPath is the root of the parent repository new branches fork from.
	MainRepoPath string `yaml:"main_repo_path"`

	// DefaultBranch is the branch new worktrees fork from when the agent
	// has no parent agent.
	DefaultBranch string `yaml:"default_branch"`

	// BranchPrefix namespaces agent branches, e.g. "hephaestus/".
	BranchPrefix string `yaml:"branch_prefix"`

	// WorktreeRoot is the filesystem directory new worktrees are materialized under.
	WorktreeRoot string `yaml:"worktree_root"`
}

// DefaultWorktreeConfig returns the built-in worktree defaults.
func DefaultWorktreeConfig() *WorktreeConfig {
	return &WorktreeConfig{
		DefaultBranch: "main",
		BranchPrefix:  "hephaestus/",
		WorktreeRoot:  "/var/lib/hephaestus/worktrees",
	}
}

// VectorIndexConfig controls the opaque similarity index used for ticket/memory search.
type VectorIndexConfig struct {
	// QdrantURL is the literal config key named in spec §6.
	QdrantURL      string `yaml:"qdrant_url"`
	CollectionName string `yaml:"collection_name"`
	VectorSize     int    `yaml:"vector_size"`
}

// DefaultVectorIndexConfig returns the built-in vector index defaults.
func DefaultVectorIndexConfig() *VectorIndexConfig {
	return &VectorIndexConfig{
		CollectionName: "hephaestus_tickets",
		VectorSize:     1536,
	}
}

// AgentCLIConfig names the external CLI process AgentManager launches
// inside every new session (spec §4.5: "create a terminal session running
// the configured CLI").
type AgentCLIConfig struct {
	// Command is argv for the agent CLI, e.g. ["claude", "--dangerously-skip-permissions"].
	Command []string `yaml:"command"`
}

// DefaultAgentCLIConfig returns the built-in agent CLI defaults.
func DefaultAgentCLIConfig() *AgentCLIConfig {
	return &AgentCLIConfig{
		Command: []string{"claude", "--dangerously-skip-permissions"},
	}
}

// StoreConfig names the relational backing store.
type StoreConfig struct {
	// DatabasePath is the literal config key named in spec §6 — a DSN or
	// file/URL identifying the relational database.
	DatabasePath string `yaml:"database_path"`
}
