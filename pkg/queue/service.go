// Package queue implements QueueService (spec §4.1): admission control
// against max_concurrent_agents, priority-ordered queueing with boost, and
// dequeue. Ordering and position bookkeeping live in the database (pgx
// query + RecomputeQueuePositions), the way the teacher's WorkerPool leaves
// session claiming to a single `FOR UPDATE SKIP LOCKED` query rather than
// application-level locking (spec §5: "no locking at application level").
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hephaestus-ai/hephaestus/pkg/apperr"
	"github.com/hephaestus-ai/hephaestus/pkg/blocking"
	"github.com/hephaestus-ai/hephaestus/pkg/config"
	"github.com/hephaestus-ai/hephaestus/pkg/models"
	"github.com/hephaestus-ai/hephaestus/pkg/store"
	"github.com/jackc/pgx/v5"
)

// Store is the subset of pkg/store.Store QueueService needs.
type Store interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, t *models.Task) error
	ListQueuedTasksOrdered(ctx context.Context) ([]*models.Task, error)
	CountActiveAgents(ctx context.Context) (int, error)
	WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}

// Blocker is the subset of pkg/blocking.Service QueueService needs to
// decide whether a newly created task should enqueue or block outright.
// pkg/blocking only references queue.Service structurally (its Requeuer
// interface), so importing the concrete blocking.CheckResult type here does
// not create an import cycle.
type Blocker interface {
	Check(ctx context.Context, task *models.Task) (blocking.CheckResult, error)
}

// Decision is admit()'s result (spec §4.1).
type Decision string

const (
	DecisionRunNow  Decision = "run_now"
	DecisionEnqueue Decision = "enqueue"
)

// Service implements QueueService.
type Service struct {
	store   Store
	blocker Blocker
	cfg     *config.QueueConfig

	mu                 sync.Mutex
	outstandingBumps   int // admission bypasses granted since the last natural completion
}

// NewService builds a Service.
func NewService(st Store, blocker Blocker, cfg *config.QueueConfig) *Service {
	if cfg == nil {
		cfg = config.DefaultQueueConfig()
	}
	return &Service{store: st, blocker: blocker, cfg: cfg}
}

var _ interface {
	RecomputePositions(ctx context.Context) error
} = (*Service)(nil)

// Admit reports whether a new agent may run immediately (spec §4.1:
// "run_now iff active_agents < max_concurrent_agents").
func (s *Service) Admit(ctx context.Context) (Decision, error) {
	active, err := s.store.CountActiveAgents(ctx)
	if err != nil {
		return "", fmt.Errorf("counting active agents for admission: %w", err)
	}
	if active < s.cfg.MaxConcurrentAgents {
		return DecisionRunNow, nil
	}
	return DecisionEnqueue, nil
}

// AdmitBypass grants an admission bypass for an explicit priority bump: the
// caller may spawn an agent even while at capacity. The bypass is tracked so
// invariant 4 (§8: "active ≤ max + outstanding bumps") stays mechanically
// checkable rather than merely documented (SPEC_FULL §C.1).
func (s *Service) AdmitBypass() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outstandingBumps++
}

// ReleaseBypass records that one previously granted bypass has resolved
// through natural agent completion, shrinking the outstanding-bump count.
func (s *Service) ReleaseBypass() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outstandingBumps > 0 {
		s.outstandingBumps--
	}
}

// OutstandingBumps returns the current count of unresolved admission
// bypasses, the "(number of outstanding priority bumps)" term of invariant 4.
func (s *Service) OutstandingBumps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstandingBumps
}

// Enqueue transitions task to queued (or blocked, when its ticket reports
// blocked), stamps queued_at, and recomputes queue positions (spec §4.1).
func (s *Service) Enqueue(ctx context.Context, task *models.Task) error {
	if s.blocker != nil {
		check, err := s.blocker.Check(ctx, task)
		if err != nil {
			return fmt.Errorf("checking blocking state for task %s: %w", task.ID, err)
		}
		if check.Blocked {
			task.Status = models.TaskStatusBlocked
			task.QueuePosition = nil
			reason := fmt.Sprintf("blocked by ticket(s) %v", check.BlockingTicketIDs)
			task.BlockedReason = &reason
			return s.store.UpdateTask(ctx, task)
		}
	}

	now := time.Now()
	task.Status = models.TaskStatusQueued
	task.QueuedAt = &now
	task.BlockedReason = nil
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("enqueuing task %s: %w", task.ID, err)
	}
	return s.RecomputePositions(ctx)
}

// Next returns the first queued task by queue order, without mutating
// anything (spec §4.1: "does not mutate").
func (s *Service) Next(ctx context.Context) (*models.Task, error) {
	tasks, err := s.store.ListQueuedTasksOrdered(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing queued tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	return tasks[0], nil
}

// Dequeue transitions task queued→assigned, clears its position, and
// recomputes the remaining queue (spec §4.1).
func (s *Service) Dequeue(ctx context.Context, task *models.Task) error {
	if task.Status != models.TaskStatusQueued {
		return apperr.InvalidTransition(fmt.Sprintf("task:%s", task.ID), fmt.Sprintf("cannot dequeue a task in status %q", task.Status))
	}
	task.Status = models.TaskStatusAssigned
	task.QueuePosition = nil
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("dequeuing task %s: %w", task.ID, err)
	}
	return s.RecomputePositions(ctx)
}

// Boost marks a queued task priority_boosted=true and recomputes positions
// (spec §4.1, glossary "Boost").
func (s *Service) Boost(ctx context.Context, task *models.Task) error {
	if task.Status != models.TaskStatusQueued {
		return apperr.InvalidTransition(fmt.Sprintf("task:%s", task.ID), "only a queued task can be boosted")
	}
	task.PriorityBoosted = true
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("boosting task %s: %w", task.ID, err)
	}
	return s.RecomputePositions(ctx)
}

// RecomputePositions assigns a strict 1-based queue_position to every
// queued task inside one transaction. Failures are surfaced but never
// corrupt state: position is always derived from (priority_boosted,
// priority, queued_at), never stored independently of a recompute (spec
// §4.1 failure semantics: "ordering recompute is best-effort... state
// remains consistent because position is derived").
func (s *Service) RecomputePositions(ctx context.Context) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return store.RecomputeQueuePositions(ctx, tx)
	})
}
