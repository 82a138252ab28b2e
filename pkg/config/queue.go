package config

import "time"

// QueueConfig contains queue and worker pool configuration.
// These values control how tasks are polled, claimed, and processed.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines polling the task queue.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentAgents is the global cap on agents with status != terminated.
	// Enforced by QueueService.admit() against a database COUNT(*).
	MaxConcurrentAgents int `yaml:"max_concurrent_agents"`

	// PollInterval is the base interval for checking queued tasks.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// AgentTimeout is the maximum time an agent may run before a
	// timeout-based recreate-with-new-approach intervention fires.
	AgentTimeout time.Duration `yaml:"agent_timeout"`

	// GracefulShutdownTimeout bounds how long Stop() waits for in-flight
	// claims to finish before returning.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// OrphanDetectionInterval is how often to scan for orphaned agent sessions.
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`

	// OrphanThreshold is how long an agent can go without a heartbeat
	// before it is considered orphaned, subject to the grace-period floor
	// computed as max(tick_period*2, min_agent_age).
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`

	// HeartbeatInterval is how often a live agent session's last_activity
	// is stamped while it is registered with the queue.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             5,
		MaxConcurrentAgents:     5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		AgentTimeout:            60 * time.Minute,
		GracefulShutdownTimeout: 2 * time.Minute,
		OrphanDetectionInterval: 5 * time.Minute,
		OrphanThreshold:         5 * time.Minute,
		HeartbeatInterval:       30 * time.Second,
	}
}
