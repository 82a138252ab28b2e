package models

import "time"

// AgentStatus is the closed set of states an Agent can occupy.
type AgentStatus string

const (
	AgentStatusIdle       AgentStatus = "idle"
	AgentStatusWorking    AgentStatus = "working"
	AgentStatusStuck      AgentStatus = "stuck"
	AgentStatusTerminated AgentStatus = "terminated"
)

// AgentType is a closed enum standing in for the teacher's polymorphic
// subclass hierarchy (§9): "Agent.agent_type is a closed enum, not subclass
// inheritance".
type AgentType string

const (
	AgentTypePhase           AgentType = "phase"
	AgentTypeValidator       AgentType = "validator"
	AgentTypeResultValidator AgentType = "result_validator"
	AgentTypeMonitor         AgentType = "monitor"
	AgentTypeDiagnostic      AgentType = "diagnostic"
)

// IsValidatorType reports whether t is one of the two validator agent types,
// which are never targets of duplicate-terminate decisions (invariant 7, §8).
func (t AgentType) IsValidatorType() bool {
	return t == AgentTypeValidator || t == AgentTypeResultValidator
}

// Agent is a single external CLI process running inside a SessionHost
// session, bound to at most one worktree and at most one in-flight task.
type Agent struct {
	ID      string
	Status  AgentStatus
	AgentType AgentType

	// SessionName is unique among agents with Status != terminated
	// (invariant, §3).
	SessionName string

	CurrentTaskID *string
	LastActivity  time.Time

	HealthCheckFailures int

	// KeptAliveForValidation is true while a task's original agent is held
	// open awaiting a validator verdict (§4.10).
	KeptAliveForValidation bool

	WorkflowID *string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	TerminatedAt *time.Time
	DeletedAt   *time.Time
}

// AgentLogType is the closed set of AgentLog row kinds. Guardian's
// accumulated-context builder reads logs of types {input, output, message,
// steering, intervention} (§4.6 step 3); terminate() writes exactly one
// "terminated" row per agent (invariant 5, §8).
type AgentLogType string

const (
	AgentLogTypeInput        AgentLogType = "input"
	AgentLogTypeOutput       AgentLogType = "output"
	AgentLogTypeMessage      AgentLogType = "message"
	AgentLogTypeSteering     AgentLogType = "steering"
	AgentLogTypeIntervention AgentLogType = "intervention"
	AgentLogTypeTerminated   AgentLogType = "terminated"
)

// AgentLog is an append-only audit row for everything that flows in or out
// of an agent's session.
type AgentLog struct {
	ID        string
	AgentID   string
	Type      AgentLogType
	Content   string

	// FinalOutput, OutputLines, CapturedAt are populated only on the single
	// "terminated" row per agent (invariant 5, §8).
	FinalOutput *string
	OutputLines *int
	CapturedAt  *time.Time

	// Discarded marks a "send" that was dropped by the anti-spam invariant
	// (§4.5) — recorded for audit rather than silently swallowed.
	Discarded bool

	Timestamp time.Time
}
