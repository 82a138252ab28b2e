package models

import "time"

// WorkflowStatus is the closed set of workflow lifecycle states.
type WorkflowStatus string

const (
	WorkflowStatusActive    WorkflowStatus = "active"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusArchived  WorkflowStatus = "archived"
)

// Workflow owns an ordered list of Phases (§3).
type Workflow struct {
	ID     string
	Name   string
	Goal   string
	Status WorkflowStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PhaseStatus is the closed set of phase lifecycle states.
type PhaseStatus string

const (
	PhaseStatusPending    PhaseStatus = "pending"
	PhaseStatusInProgress PhaseStatus = "in_progress"
	PhaseStatusCompleted  PhaseStatus = "completed"
)

// Phase is one ordered step of a Workflow. Phase order is unique per
// workflow; completing phase N's done-criteria spawns the initial task of
// phase N+1 (invariant, §3).
type Phase struct {
	ID          string
	WorkflowID  string
	Order       int
	Description string

	// DoneDefinitions are the textual done-criteria checked by
	// MonitorLoop's phase progression step (§4.8 step 5).
	DoneDefinitions []string

	// ValidationPolicy optionally overrides whether tasks created in this
	// phase default to validation_enabled=true.
	ValidationPolicy *bool

	DefaultWorkingDir string

	Status      PhaseStatus
	CompletedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// WorkflowResult is a submitted markdown result file for the workflow-level
// validation path (§4.10 "submit_result").
type WorkflowResult struct {
	ID         string
	WorkflowID string
	AgentID    string
	Content    string
	Validated  bool
	CreatedAt  time.Time
}

// DiagnosticRun records when the stuck-workflow detector fired (§4.9).
type DiagnosticRun struct {
	ID               string
	WorkflowID       string
	TriggeredAt      time.Time
	ContextSnapshot  string
	TasksCreated     []string
	DiagnosticAgentID string
}
