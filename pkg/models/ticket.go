package models

import "time"

// Ticket is a kanban-board item whose status is a column in the owning
// workflow's BoardConfig, and whose unresolved blockers propagate a
// "blocked" state to any Task linked to it (§3, §4.2).
type Ticket struct {
	ID         string
	WorkflowID string

	Title       string
	Description string
	Type        string
	Priority    TaskPriority

	// Status must be one of BoardConfig.Columns for this workflow.
	Status string

	ParentTicketID *string

	// BlockedByTicketIDs is non-empty iff the ticket cannot change status
	// (invariant 2, §8).
	BlockedByTicketIDs []string

	Tags []string

	Embedding []float32

	IsResolved bool
	ResolvedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TicketComment is one entry of a ticket's comment/history thread.
type TicketComment struct {
	ID        string
	TicketID  string
	AuthorID  string
	Body      string
	CreatedAt time.Time
}

// TicketCommitLink records a commit sha auto-linked to a ticket on
// successful task validation (§4.10).
type TicketCommitLink struct {
	ID        string
	TicketID  string
	CommitSHA string
	TaskID    string
	CreatedAt time.Time
}

// TicketAuditEventType enumerates audit entries emitted for ticket
// transitions, including the "unblocked" events invariant 8 (§8) requires.
type TicketAuditEventType string

const (
	TicketAuditEventBlocked      TicketAuditEventType = "blocked"
	TicketAuditEventUnblocked    TicketAuditEventType = "unblocked"
	TicketAuditEventStatusChange TicketAuditEventType = "status_change"
	TicketAuditEventResolved     TicketAuditEventType = "resolved"
)

// TicketAuditEvent is an append-only audit row for ticket state changes.
type TicketAuditEvent struct {
	ID        string
	TicketID  string
	Type      TicketAuditEventType
	Detail    string
	CreatedAt time.Time
}

// BoardConfig is the per-workflow kanban board definition (§3).
type BoardConfig struct {
	WorkflowID string

	// Columns is the ordered set of valid ticket.Status values.
	Columns []string

	AllowedTicketTypes []string

	// InitialStatus must be one of Columns.
	InitialStatus string

	// PolicyToggles are named boolean feature toggles for this board
	// (e.g. "require_approval_before_done").
	PolicyToggles map[string]bool
}

// HasColumn reports whether status is a valid column for this board.
func (b *BoardConfig) HasColumn(status string) bool {
	for _, c := range b.Columns {
		if c == status {
			return true
		}
	}
	return false
}
