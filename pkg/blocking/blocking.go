// Package blocking implements TaskBlockingService (spec §4.2): it derives a
// task's runnable state purely from its linked ticket's blocker list, so
// the queue never has to know about tickets directly.
package blocking

import (
	"context"
	"fmt"
	"time"

	"github.com/hephaestus-ai/hephaestus/pkg/apperr"
	"github.com/hephaestus-ai/hephaestus/pkg/models"
)

// Store is the subset of pkg/store.Store TaskBlockingService needs.
type Store interface {
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, t *models.Task) error
	ListTasksByStatus(ctx context.Context, workflowID *string, statuses []models.TaskStatus) ([]*models.Task, error)
}

// Requeuer recomputes queue positions after unblock/block transitions,
// satisfied by pkg/queue.Service.
type Requeuer interface {
	RecomputePositions(ctx context.Context) error
}

// Enricher is the subset of pkg/task.Service Unblock needs: a task created
// before its ticket resolved may never have been enriched, so unblock is
// the other caller of the shared idempotent ensureEnriched helper
// (DESIGN.md open-question decision #1).
type Enricher interface {
	EnsureEnriched(ctx context.Context, task *models.Task) error
}

// Service implements TaskBlockingService.
type Service struct {
	store    Store
	queue    Requeuer
	enricher Enricher
}

// NewService builds a Service. queue/enricher may be nil in tests that
// don't exercise requeue or enrichment, or at startup wiring time when
// QueueService and TaskService are constructed from this very Service and
// so aren't available yet (see SetQueue/SetEnricher).
func NewService(st Store, queue Requeuer, enricher Enricher) *Service {
	return &Service{store: st, queue: queue, enricher: enricher}
}

// SetQueue wires the Requeuer after construction, breaking the
// blocking<->queue<->task constructor cycle at startup: QueueService takes
// a Blocker at construction time, so Service must exist before its own
// Requeuer does.
func (s *Service) SetQueue(q Requeuer) {
	s.queue = q
}

// SetEnricher wires the Enricher after construction, for the same reason
// as SetQueue (TaskService takes a Blocker at construction time).
func (s *Service) SetEnricher(e Enricher) {
	s.enricher = e
}

// CheckResult is check()'s return value.
type CheckResult struct {
	Blocked           bool
	BlockingTicketIDs []string
}

// Check reports whether task is blocked iff its ticket has a non-empty
// BlockedByTicketIDs (spec §4.2).
func (s *Service) Check(ctx context.Context, task *models.Task) (CheckResult, error) {
	if task.TicketID == nil {
		return CheckResult{}, nil
	}
	ticket, err := s.store.GetTicket(ctx, *task.TicketID)
	if err != nil {
		return CheckResult{}, fmt.Errorf("loading ticket %s for task %s: %w", *task.TicketID, task.ID, err)
	}
	if len(ticket.BlockedByTicketIDs) == 0 {
		return CheckResult{}, nil
	}
	return CheckResult{Blocked: true, BlockingTicketIDs: ticket.BlockedByTicketIDs}, nil
}

// Block transitions task to blocked and stores reason.
func (s *Service) Block(ctx context.Context, task *models.Task, reason string) error {
	if task.Status.IsTerminal() {
		return apperr.InvalidTransition(fmt.Sprintf("task:%s", task.ID), "cannot block a task in a terminal state")
	}
	task.Status = models.TaskStatusBlocked
	task.QueuePosition = nil
	task.BlockedReason = &reason
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("blocking task %s: %w", task.ID, err)
	}
	return nil
}

// Unblock transitions task to queued (never pending, spec §4.2: "pending
// is never polled by the queue"), stamps queued_at, and triggers a queue
// position recompute. A task blocked before it was ever enriched gets its
// one shot at enrichment here (the other ensureEnriched call site is
// TaskService.Create).
func (s *Service) Unblock(ctx context.Context, task *models.Task) error {
	if s.enricher != nil {
		if err := s.enricher.EnsureEnriched(ctx, task); err != nil {
			return fmt.Errorf("enriching task %s before unblock: %w", task.ID, err)
		}
	}

	now := time.Now()
	task.Status = models.TaskStatusQueued
	task.QueuedAt = &now
	task.BlockedReason = nil
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("unblocking task %s: %w", task.ID, err)
	}
	if s.queue != nil {
		if err := s.queue.RecomputePositions(ctx); err != nil {
			return fmt.Errorf("recomputing queue positions after unblocking task %s: %w", task.ID, err)
		}
	}
	return nil
}

// reconcilableStatuses is the set of task statuses sync() reconciles
// against the derived blocked state (spec §4.2).
var reconcilableStatuses = []models.TaskStatus{
	models.TaskStatusPending,
	models.TaskStatusQueued,
	models.TaskStatusBlocked,
	models.TaskStatusAssigned,
	models.TaskStatusInProgress,
}

// Sync reconciles every task with a ticket whose status is in
// reconcilableStatuses to the derived blocked state (spec §4.2). Individual
// task failures are logged by the caller and do not abort the pass — the
// invariant (task.status == blocked iff ticket has unresolved blockers) is
// restored incrementally, not atomically, per spec §8 invariant 3's "modulo
// the sync reconciler" carve-out.
func (s *Service) Sync(ctx context.Context) ([]error, error) {
	tasks, err := s.store.ListTasksByStatus(ctx, nil, reconcilableStatuses)
	if err != nil {
		return nil, fmt.Errorf("listing tasks for blocking sync: %w", err)
	}

	var failures []error
	for _, task := range tasks {
		if task.TicketID == nil {
			continue
		}
		check, err := s.Check(ctx, task)
		if err != nil {
			failures = append(failures, fmt.Errorf("task %s: %w", task.ID, err))
			continue
		}
		switch {
		case check.Blocked && task.Status != models.TaskStatusBlocked:
			reason := fmt.Sprintf("ticket is blocked by %d ticket(s)", len(check.BlockingTicketIDs))
			if err := s.Block(ctx, task, reason); err != nil {
				failures = append(failures, fmt.Errorf("task %s: %w", task.ID, err))
			}
		case !check.Blocked && task.Status == models.TaskStatusBlocked:
			if err := s.Unblock(ctx, task); err != nil {
				failures = append(failures, fmt.Errorf("task %s: %w", task.ID, err))
			}
		}
	}
	return failures, nil
}
