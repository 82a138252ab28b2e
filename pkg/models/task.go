// Package models defines the plain-struct entity shapes persisted by pkg/store.
//
// These mirror the ent/schema/*.go field lists of the teacher repository in
// spirit (one struct per entity, explicit fields, no hidden relationship
// magic) but are hand-written: there is no code generator here, and foreign
// keys are always plain ids, never in-memory parent/child pointers (§9 of
// the design: "cyclic references... store only ids; resolve by query").
package models

import "time"

// TaskStatus is the closed set of states a Task can occupy.
type TaskStatus string

const (
	TaskStatusPending               TaskStatus = "pending"
	TaskStatusQueued                TaskStatus = "queued"
	TaskStatusBlocked               TaskStatus = "blocked"
	TaskStatusAssigned              TaskStatus = "assigned"
	TaskStatusInProgress            TaskStatus = "in_progress"
	TaskStatusUnderReview           TaskStatus = "under_review"
	TaskStatusValidationInProgress  TaskStatus = "validation_in_progress"
	TaskStatusNeedsWork             TaskStatus = "needs_work"
	TaskStatusDone                  TaskStatus = "done"
	TaskStatusFailed                TaskStatus = "failed"
	TaskStatusDuplicated            TaskStatus = "duplicated"
)

// IsTerminal reports whether s is one of the terminal task states (§4.10).
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusDone, TaskStatusFailed, TaskStatusDuplicated:
		return true
	default:
		return false
	}
}

// TaskPriority is the closed set of task priority levels.
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityHigh   TaskPriority = "high"
)

// Rank returns a strict ordering weight for priority comparisons, high first.
func (p TaskPriority) Rank() int {
	switch p {
	case TaskPriorityHigh:
		return 2
	case TaskPriorityMedium:
		return 1
	default:
		return 0
	}
}

// Task is the unit of work dispatched to an Agent. See spec §3.
type Task struct {
	ID          string
	RawDescription     string
	EnrichedDescription string
	DoneCriterion       string
	EstimatedComplexity string

	Status         TaskStatus
	Priority       TaskPriority
	PriorityBoosted bool

	// QueuePosition is non-nil iff Status == queued (invariant, §3).
	QueuePosition *int
	QueuedAt      *time.Time

	AssignedAgentID  *string
	CreatedByAgentID *string
	ParentTaskID     *string
	PhaseID          *string
	WorkflowID       *string
	TicketID         *string

	Embedding []float32

	DuplicateOfTaskID *string
	SimilarityScore   *float64

	ValidationEnabled   bool
	ValidationIteration int
	HasResults          bool

	// BlockedReason is set whenever the task is routed to blocked
	// (QueueService.Enqueue, which names the blocking ticket ids, and
	// TaskBlockingService.Block) and cleared when it leaves blocked.
	BlockedReason *string

	// FailureReason is set whenever status transitions to failed (spec
	// §4.10 failure semantics: "the task is marked failed with reason").
	FailureReason *string

	// EnrichedAt is set exactly once, the first time enrich_task succeeds
	// for this task (DESIGN.md open-question decision #1). nil means the
	// task has not been enriched yet.
	EnrichedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// RelatedTask records a sub-DUP, supra-REL similarity hit between two tasks
// in the same phase (spec §4.3). Capped at 10 per subject task.
type RelatedTask struct {
	ID              string
	TaskID          string
	RelatedTaskID   string
	SimilarityScore float64
	CreatedAt       time.Time
}
