package config

import "time"

// RetentionConfig controls data retention and cleanup behavior.
type RetentionConfig struct {
	// TaskRetentionDays is how many days to keep terminal tasks (done, failed,
	// duplicated) before soft-deleting them (setting deleted_at).
	TaskRetentionDays int `yaml:"task_retention_days"`

	// AgentLogTTL is the maximum age of AgentLog rows belonging to terminated
	// agents before deletion. Audit rows for still-active agents are untouched.
	AgentLogTTL time.Duration `yaml:"agent_log_ttl"`

	// WorktreeCleanupDelay is how long a merged/abandoned worktree's on-disk
	// directory is kept before physical removal.
	WorktreeCleanupDelay time.Duration `yaml:"worktree_cleanup_delay"`

	// CleanupInterval is how often the retention loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		TaskRetentionDays:    90,
		AgentLogTTL:          30 * 24 * time.Hour,
		WorktreeCleanupDelay: 24 * time.Hour,
		CleanupInterval:      12 * time.Hour,
	}
}
