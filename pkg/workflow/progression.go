// Package workflow implements phase progression (spec §4.8 step 5): once a
// workflow's current phase clears its done-criteria, mark it complete and
// spawn the initial task of the next phase, or complete the workflow itself
// when there is no next phase. Shape follows the teacher's stage-advance
// state machine (one phase open at a time, advance gated on a completion
// check, terminal state once every stage clears).
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hephaestus-ai/hephaestus/pkg/models"
	"github.com/hephaestus-ai/hephaestus/pkg/store"
	"github.com/hephaestus-ai/hephaestus/pkg/task"
)

// MonitorAgentID is the literal agent_id attributed to tasks the progression
// step spawns on MonitorLoop's own behalf (spec §4.8 step 5: `agent_id =
// "monitor"`).
const MonitorAgentID = "monitor"

// Store is the subset of pkg/store.Store phase progression needs.
type Store interface {
	ActiveWorkflow(ctx context.Context) (*models.Workflow, error)
	UpdateWorkflow(ctx context.Context, w *models.Workflow) error
	ListPhasesByWorkflow(ctx context.Context, workflowID string) ([]*models.Phase, error)
	UpdatePhase(ctx context.Context, p *models.Phase) error
	ListTasksByPhase(ctx context.Context, phaseID string) ([]*models.Task, error)
}

// TaskCreator is the subset of pkg/task.Service progression needs to spawn
// the next phase's initial task.
type TaskCreator interface {
	Create(ctx context.Context, p task.CreateParams) (*models.Task, error)
}

// Service drives phase progression for the single active workflow.
type Service struct {
	store Store
	tasks TaskCreator
}

// NewService builds a Service.
func NewService(st Store, tasks TaskCreator) *Service {
	return &Service{store: st, tasks: tasks}
}

// Advance runs one phase-progression pass (spec §4.8 step 5). It is a no-op
// when there is no active workflow; ambiguity (more than one active
// workflow) is surfaced as an error rather than silently picking one.
func (s *Service) Advance(ctx context.Context) error {
	wf, err := s.store.ActiveWorkflow(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoActiveWorkflow) {
			return nil
		}
		return fmt.Errorf("resolving active workflow: %w", err)
	}

	phases, err := s.store.ListPhasesByWorkflow(ctx, wf.ID)
	if err != nil {
		return fmt.Errorf("listing phases for workflow %s: %w", wf.ID, err)
	}

	for i, p := range phases {
		if p.Status != models.PhaseStatusInProgress {
			continue
		}
		done, err := s.phaseDone(ctx, p)
		if err != nil {
			return fmt.Errorf("checking done-criteria for phase %s: %w", p.ID, err)
		}
		if !done {
			continue
		}
		if err := s.complete(ctx, wf, p, phases, i); err != nil {
			return err
		}
	}
	return nil
}

// phaseDone reports whether every task p owns has reached a terminal state
// and at least one reached it by being done — the done-criteria check named
// in spec §4.8 step 5. DoneDefinitions is the phase's textual contract with
// its own tasks (each task's done_criterion is drawn from it at creation
// time); checking it here reduces to checking that the tasks it produced are
// themselves finished.
func (s *Service) phaseDone(ctx context.Context, p *models.Phase) (bool, error) {
	tasks, err := s.store.ListTasksByPhase(ctx, p.ID)
	if err != nil {
		return false, err
	}
	if len(tasks) == 0 {
		return false, nil
	}
	sawDone := false
	for _, t := range tasks {
		if !t.Status.IsTerminal() {
			return false, nil
		}
		if t.Status == models.TaskStatusDone {
			sawDone = true
		}
	}
	return sawDone, nil
}

func (s *Service) complete(ctx context.Context, wf *models.Workflow, p *models.Phase, phases []*models.Phase, index int) error {
	now := time.Now()
	p.Status = models.PhaseStatusCompleted
	p.CompletedAt = &now
	if err := s.store.UpdatePhase(ctx, p); err != nil {
		return fmt.Errorf("completing phase %s: %w", p.ID, err)
	}

	var next *models.Phase
	for _, candidate := range phases {
		if candidate.Order == p.Order+1 {
			next = candidate
			break
		}
	}
	if next == nil {
		wf.Status = models.WorkflowStatusCompleted
		if err := s.store.UpdateWorkflow(ctx, wf); err != nil {
			return fmt.Errorf("completing workflow %s: %w", wf.ID, err)
		}
		return nil
	}

	validationEnabled := next.ValidationPolicy != nil && *next.ValidationPolicy
	monitorAgent := MonitorAgentID
	if _, err := s.tasks.Create(ctx, task.CreateParams{
		RawDescription:    next.Description,
		DoneCriterion:     strings.Join(next.DoneDefinitions, "; "),
		Priority:          models.TaskPriorityMedium,
		PhaseID:           &next.ID,
		WorkflowID:        &wf.ID,
		CreatedByAgentID:  &monitorAgent,
		ValidationEnabled: validationEnabled,
	}); err != nil {
		return fmt.Errorf("spawning initial task of phase %s: %w", next.ID, err)
	}

	next.Status = models.PhaseStatusInProgress
	return s.store.UpdatePhase(ctx, next)
}
