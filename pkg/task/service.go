// Package task implements task creation and the queue-draining glue that
// ties enrichment, duplicate detection, blocking, admission, and agent
// spawn together (spec §4.1, §4.3). No other package owns this sequence:
// QueueService only admits/orders, TaskBlockingService only derives the
// blocked bit, AgentManager only spawns — Service is what calls them in
// the right order for a task's life from creation to its first agent.
package task

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hephaestus-ai/hephaestus/pkg/agent"
	"github.com/hephaestus-ai/hephaestus/pkg/blocking"
	"github.com/hephaestus-ai/hephaestus/pkg/llm"
	"github.com/hephaestus-ai/hephaestus/pkg/models"
	"github.com/hephaestus-ai/hephaestus/pkg/queue"
	"github.com/hephaestus-ai/hephaestus/pkg/similarity"
)

// Store is the subset of pkg/store.Store Service needs.
type Store interface {
	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, t *models.Task) error
	GetPhase(ctx context.Context, id string) (*models.Phase, error)
}

// Enricher is the subset of pkg/llm.Client Service needs.
type Enricher interface {
	EnrichTask(ctx context.Context, req llm.EnrichTaskRequest) (*llm.EnrichTaskResult, error)
}

// DuplicateChecker is the subset of pkg/similarity.Service Service needs.
type DuplicateChecker interface {
	CheckTaskDuplicate(ctx context.Context, task *models.Task, enrichedText string) (similarity.DuplicateResult, error)
	PersistRelated(ctx context.Context, taskID string, related []similarity.RelatedMatch) error
}

// Blocker is the subset of pkg/blocking.Service Service needs.
type Blocker interface {
	Check(ctx context.Context, task *models.Task) (blocking.CheckResult, error)
}

// Queue is the subset of pkg/queue.Service Service needs.
type Queue interface {
	Enqueue(ctx context.Context, task *models.Task) error
	Admit(ctx context.Context) (queue.Decision, error)
	Next(ctx context.Context) (*models.Task, error)
	Dequeue(ctx context.Context, task *models.Task) error
}

// AgentSpawner is the subset of pkg/agent.Manager Service needs.
type AgentSpawner interface {
	Spawn(ctx context.Context, p agent.SpawnParams) (*models.Agent, error)
}

// Service creates tasks and drains the queue into running agents.
type Service struct {
	store    Store
	enricher Enricher
	dupes    DuplicateChecker
	blocker  Blocker
	queue    Queue
	agents   AgentSpawner
}

// NewService builds a Service. enricher and dupes may be nil (enrichment
// degrades to a pass-through of the raw description; duplicate checking is
// skipped entirely), matching how EmbeddingService/LLMClient are optional
// capabilities in tests.
func NewService(st Store, enricher Enricher, dupes DuplicateChecker, blocker Blocker, q Queue, agents AgentSpawner) *Service {
	return &Service{store: st, enricher: enricher, dupes: dupes, blocker: blocker, queue: q, agents: agents}
}

// CreateParams carries everything Create needs to materialize a new task.
type CreateParams struct {
	RawDescription    string
	DoneCriterion     string
	Priority          models.TaskPriority
	TicketID          *string
	ParentTaskID      *string
	PhaseID           *string
	WorkflowID        *string
	CreatedByAgentID  *string
	ValidationEnabled bool
}

// Create persists a new task, enriches it, checks for duplicates/related
// tasks within its phase, and either enqueues or blocks it, draining the
// queue into a freshly spawned agent when capacity allows (spec §4.1 step
// "create → enrich → dedup check → enqueue/block", §4.3).
func (s *Service) Create(ctx context.Context, p CreateParams) (*models.Task, error) {
	t, isDuplicate, err := s.createEnriched(ctx, p)
	if err != nil {
		return nil, err
	}
	if isDuplicate {
		return t, nil
	}

	if err := s.queue.Enqueue(ctx, t); err != nil {
		return nil, fmt.Errorf("enqueuing task %s: %w", t.ID, err)
	}

	if err := s.ProcessQueue(ctx); err != nil {
		return nil, fmt.Errorf("draining queue after creating task %s: %w", t.ID, err)
	}

	refreshed, err := s.store.GetTask(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("reloading task %s: %w", t.ID, err)
	}
	return refreshed, nil
}

// CreateWithoutDispatch persists, enriches, and dedup-checks a task exactly
// like Create, but never enqueues or drains it into a queue-admitted phase
// agent: the task is left in status=pending for the caller to assign
// directly. Used by the stuck-workflow diagnostic (spec §4.9), whose agent
// runs in the main repo path outside normal admission rather than through a
// freshly allocated worktree.
func (s *Service) CreateWithoutDispatch(ctx context.Context, p CreateParams) (*models.Task, error) {
	t, _, err := s.createEnriched(ctx, p)
	return t, err
}

// MarkAssigned transitions a pending task straight to in_progress against an
// out-of-band agent that the caller spawned itself (bypassing QueueService
// entirely), recording the assignment the same way spawnForTask does for a
// queue-admitted task.
func (s *Service) MarkAssigned(ctx context.Context, t *models.Task, agentID string) error {
	t.Status = models.TaskStatusInProgress
	t.AssignedAgentID = &agentID
	return s.store.UpdateTask(ctx, t)
}

// createEnriched is the shared persist→enrich→dedup-check sequence behind
// both Create and CreateWithoutDispatch. The bool return is whether the task
// came back duplicated.
func (s *Service) createEnriched(ctx context.Context, p CreateParams) (*models.Task, bool, error) {
	priority := p.Priority
	if priority == "" {
		priority = models.TaskPriorityMedium
	}
	t := &models.Task{
		ID:                uuid.NewString(),
		RawDescription:    p.RawDescription,
		DoneCriterion:     p.DoneCriterion,
		Status:            models.TaskStatusPending,
		Priority:          priority,
		TicketID:          p.TicketID,
		ParentTaskID:      p.ParentTaskID,
		PhaseID:           p.PhaseID,
		WorkflowID:        p.WorkflowID,
		CreatedByAgentID:  p.CreatedByAgentID,
		ValidationEnabled: p.ValidationEnabled,
	}
	if err := s.store.CreateTask(ctx, t); err != nil {
		return nil, false, fmt.Errorf("creating task: %w", err)
	}

	if err := s.ensureEnriched(ctx, t); err != nil {
		return nil, false, fmt.Errorf("enriching task %s: %w", t.ID, err)
	}

	isDuplicate, err := s.checkDuplicate(ctx, t)
	if err != nil {
		return nil, false, err
	}
	return t, isDuplicate, nil
}

// EnsureEnriched is the exported form of ensureEnriched, called by
// pkg/blocking.Service.Unblock for a task that was blocked before it was
// ever enriched (DESIGN.md open-question decision #1).
func (s *Service) EnsureEnriched(ctx context.Context, t *models.Task) error {
	return s.ensureEnriched(ctx, t)
}

// ensureEnriched sets EnrichedDescription/EstimatedComplexity/EnrichedAt
// exactly once, on the first successful enrichment (DESIGN.md open-question
// decision #1). A failed or absent enricher leaves EnrichedAt unset so a
// later caller — TaskBlockingService.Unblock included — can retry.
func (s *Service) ensureEnriched(ctx context.Context, t *models.Task) error {
	if t.EnrichedAt != nil {
		return nil
	}
	if s.enricher == nil {
		return s.stampEnriched(ctx, t, t.RawDescription, "")
	}

	var phaseDesc string
	if t.PhaseID != nil {
		if phase, err := s.store.GetPhase(ctx, *t.PhaseID); err == nil {
			phaseDesc = phase.Description
		}
	}

	result, err := s.enricher.EnrichTask(ctx, llm.EnrichTaskRequest{
		RawDescription:   t.RawDescription,
		DoneCriterion:    t.DoneCriterion,
		PhaseDescription: phaseDesc,
	})
	if err != nil {
		// Degrade gracefully (spec §7: "never block task creation"); leave
		// EnrichedAt nil so the next ensureEnriched call retries.
		return nil
	}
	return s.stampEnriched(ctx, t, result.Enriched, result.EstimatedComplexity)
}

func (s *Service) stampEnriched(ctx context.Context, t *models.Task, enriched, complexity string) error {
	now := time.Now()
	t.EnrichedDescription = enriched
	t.EstimatedComplexity = complexity
	t.EnrichedAt = &now
	return s.store.UpdateTask(ctx, t)
}

// checkDuplicate embeds/compares t against its phase siblings and marks it
// duplicated when a match clears the configured threshold (spec §4.3).
func (s *Service) checkDuplicate(ctx context.Context, t *models.Task) (bool, error) {
	if s.dupes == nil || t.PhaseID == nil {
		return false, nil
	}
	result, err := s.dupes.CheckTaskDuplicate(ctx, t, t.EnrichedDescription)
	if err != nil {
		return false, fmt.Errorf("checking duplicate for task %s: %w", t.ID, err)
	}

	if result.IsDuplicate {
		t.Status = models.TaskStatusDuplicated
		t.DuplicateOfTaskID = &result.DuplicateOf.ID
		t.SimilarityScore = &result.Similarity
		if err := s.store.UpdateTask(ctx, t); err != nil {
			return false, fmt.Errorf("marking task %s duplicated: %w", t.ID, err)
		}
		return true, nil
	}

	if len(result.Related) > 0 {
		if err := s.dupes.PersistRelated(ctx, t.ID, result.Related); err != nil {
			return false, fmt.Errorf("persisting related tasks for %s: %w", t.ID, err)
		}
	}
	// CheckTaskDuplicate may have lazily embedded t as a side effect even
	// when nothing matched; persist that embedding so later tasks in the
	// phase compare against it.
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return false, fmt.Errorf("persisting embedding for task %s: %w", t.ID, err)
	}
	return false, nil
}

// ProcessQueue drains the queue while capacity allows: admit, pop the
// front task, dequeue it, and spawn its agent. Runs until admission says
// enqueue or the queue is empty (spec §4.1, §5: "a ~60s timer guarantees
// forward progress" — this is the routine that timer in cmd/hephaestusd
// drives, alongside Create and the validation-failure path).
func (s *Service) ProcessQueue(ctx context.Context) error {
	for {
		decision, err := s.queue.Admit(ctx)
		if err != nil {
			return fmt.Errorf("checking admission: %w", err)
		}
		if decision != queue.DecisionRunNow {
			return nil
		}

		next, err := s.queue.Next(ctx)
		if err != nil {
			return fmt.Errorf("peeking next queued task: %w", err)
		}
		if next == nil {
			return nil
		}

		if err := s.queue.Dequeue(ctx, next); err != nil {
			return fmt.Errorf("dequeuing task %s: %w", next.ID, err)
		}

		if err := s.spawnForTask(ctx, next); err != nil {
			return fmt.Errorf("spawning agent for task %s: %w", next.ID, err)
		}
	}
}

// spawnForTask creates the phase agent for a just-dequeued task and
// transitions it to in_progress.
func (s *Service) spawnForTask(ctx context.Context, t *models.Task) error {
	var workingDir string
	if t.PhaseID != nil {
		if phase, err := s.store.GetPhase(ctx, *t.PhaseID); err == nil {
			workingDir = phase.DefaultWorkingDir
		}
	}

	a, err := s.agents.Spawn(ctx, agent.SpawnParams{
		Task:       t,
		Enriched:   t.EnrichedDescription,
		WorkingDir: workingDir,
		AgentType:  models.AgentTypePhase,
		WorkflowID: t.WorkflowID,
	})
	if err != nil {
		return err
	}

	t.Status = models.TaskStatusInProgress
	t.AssignedAgentID = &a.ID
	return s.store.UpdateTask(ctx, t)
}
