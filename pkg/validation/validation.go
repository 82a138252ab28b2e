// Package validation implements ValidationService (spec §4.10): the gate
// between an agent claiming done and a task actually reaching done. Both the
// task path (per-task validator) and the workflow path (result_validator)
// spawn a second agent to judge the first agent's work before any state
// change sticks, the way the teacher's stage_service gates a stage advance
// on an explicit review rather than trusting the worker's own report.
package validation

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hephaestus-ai/hephaestus/pkg/agent"
	"github.com/hephaestus-ai/hephaestus/pkg/models"
)

// Store is the subset of pkg/store.Store ValidationService needs.
type Store interface {
	UpdateTask(ctx context.Context, t *models.Task) error
	UpdateAgent(ctx context.Context, a *models.Agent) error
	GetWorktreeByAgent(ctx context.Context, agentID string) (*models.Worktree, error)
	UpdateWorktree(ctx context.Context, w *models.Worktree) error
	CreateWorkflowResult(ctx context.Context, r *models.WorkflowResult) error
	UpdateWorkflowResultValidated(ctx context.Context, id string, validated bool) error
}

// WorktreeOps is the subset of pkg/worktree.Manager ValidationService needs.
type WorktreeOps interface {
	CommitForValidation(ctx context.Context, w *models.Worktree, iteration int) (string, error)
	MergeToParent(ctx context.Context, w *models.Worktree, parentPath string) (string, error)
}

// AgentOps is the subset of pkg/agent.Manager ValidationService needs.
type AgentOps interface {
	Spawn(ctx context.Context, p agent.SpawnParams) (*models.Agent, error)
	Send(ctx context.Context, a *models.Agent, text string) error
	Terminate(ctx context.Context, a *models.Agent) error
}

// TicketLinker is the subset of pkg/ticket.Service ValidationService needs.
type TicketLinker interface {
	LinkCommit(ctx context.Context, ticketID, taskID, commitSHA string) error
}

// QueueDrainer is the subset of pkg/task.Service ValidationService needs on
// validator-spawn failure (spec §4.10: "the queue is processed").
type QueueDrainer interface {
	ProcessQueue(ctx context.Context) error
}

// Service implements ValidationService.
type Service struct {
	store       Store
	worktrees   WorktreeOps
	agents      AgentOps
	tickets     TicketLinker
	queue       QueueDrainer
	mainRepoDir string
}

// NewService builds a Service. mainRepoDir is the parent of any worktree
// whose ParentAgentID is nil (spec §4.4).
func NewService(st Store, worktrees WorktreeOps, agents AgentOps, tickets TicketLinker, queue QueueDrainer, mainRepoDir string) *Service {
	return &Service{store: st, worktrees: worktrees, agents: agents, tickets: tickets, queue: queue, mainRepoDir: mainRepoDir}
}

// RequestTaskValidation runs the task path's entry: an agent reported
// status=done on a validation_enabled task (spec §4.10). It marks the task
// under_review, bumps validation_iteration, commits the worktree, and spawns
// a validator agent scoped to the same workflow carrying the commit sha. The
// original agent is kept alive (kept_alive_for_validation=true).
//
// On validator-spawn failure, the task is marked failed with reason, the
// original agent is terminated, and the queue is drained (spec §4.10 failure
// semantics).
func (s *Service) RequestTaskValidation(ctx context.Context, t *models.Task, original *models.Agent) (*models.Agent, error) {
	t.Status = models.TaskStatusUnderReview
	t.ValidationIteration++
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("marking task %s under review: %w", t.ID, err)
	}

	wt, err := s.store.GetWorktreeByAgent(ctx, original.ID)
	if err != nil {
		return nil, fmt.Errorf("loading worktree for agent %s: %w", original.ID, err)
	}
	commitSHA, err := s.worktrees.CommitForValidation(ctx, wt, t.ValidationIteration)
	if err != nil {
		return nil, fmt.Errorf("committing worktree %s for validation: %w", wt.ID, err)
	}

	validator, spawnErr := s.agents.Spawn(ctx, agent.SpawnParams{
		Task:                t,
		Enriched:            fmt.Sprintf("Review commit %s against done criterion: %s", commitSHA, t.DoneCriterion),
		AgentType:           models.AgentTypeValidator,
		WorkflowID:          t.WorkflowID,
		ParentAgent:         original,
		UseExistingWorktree: true,
		ExistingWorktreeDir: wt.Path,
	})
	if spawnErr != nil {
		return nil, s.failTaskValidationSpawn(ctx, t, original, spawnErr)
	}

	original.KeptAliveForValidation = true
	if err := s.store.UpdateAgent(ctx, original); err != nil {
		return nil, fmt.Errorf("marking agent %s kept alive for validation: %w", original.ID, err)
	}
	return validator, nil
}

func (s *Service) failTaskValidationSpawn(ctx context.Context, t *models.Task, original *models.Agent, spawnErr error) error {
	reason := fmt.Sprintf("validator spawn failed: %v", spawnErr)
	t.Status = models.TaskStatusFailed
	t.FailureReason = &reason
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return fmt.Errorf("marking task %s failed after validator spawn failure: %w", t.ID, err)
	}
	if err := s.agents.Terminate(ctx, original); err != nil {
		return fmt.Errorf("terminating agent %s after validator spawn failure: %w", original.ID, err)
	}
	if s.queue != nil {
		if err := s.queue.ProcessQueue(ctx); err != nil {
			return fmt.Errorf("draining queue after validator spawn failure: %w", err)
		}
	}
	return fmt.Errorf("spawning validator for task %s: %w", t.ID, spawnErr)
}

// SubmitTaskVerdict applies the validator's verdict to the task path (spec
// §4.10). A pass merges the child worktree into its parent, links the merge
// commit to the task's ticket (if any), and terminates both agents. A fail
// sends validator's feedback to the original agent and returns it to work,
// terminating only the validator.
func (s *Service) SubmitTaskVerdict(ctx context.Context, t *models.Task, original, validator *models.Agent, pass bool, feedback string) error {
	if !pass {
		t.Status = models.TaskStatusAssigned
		if err := s.store.UpdateTask(ctx, t); err != nil {
			return fmt.Errorf("returning task %s to work after failed validation: %w", t.ID, err)
		}
		if err := s.agents.Send(ctx, original, feedback); err != nil {
			return fmt.Errorf("delivering validation feedback for task %s: %w", t.ID, err)
		}
		return s.agents.Terminate(ctx, validator)
	}

	wt, err := s.store.GetWorktreeByAgent(ctx, original.ID)
	if err != nil {
		return fmt.Errorf("loading worktree for agent %s: %w", original.ID, err)
	}
	parentPath, err := s.parentPath(ctx, wt)
	if err != nil {
		return fmt.Errorf("resolving merge target for worktree %s: %w", wt.ID, err)
	}
	mergeSHA, err := s.worktrees.MergeToParent(ctx, wt, parentPath)
	if err != nil {
		return fmt.Errorf("merging worktree %s to parent: %w", wt.ID, err)
	}
	wt.MergeStatus = models.WorktreeMergeStatusMerged
	wt.MergeCommitSHA = &mergeSHA
	if err := s.store.UpdateWorktree(ctx, wt); err != nil {
		return fmt.Errorf("recording merge for worktree %s: %w", wt.ID, err)
	}

	if t.TicketID != nil && s.tickets != nil {
		if err := s.tickets.LinkCommit(ctx, *t.TicketID, t.ID, mergeSHA); err != nil {
			return fmt.Errorf("linking merge commit to ticket %s: %w", *t.TicketID, err)
		}
	}

	t.Status = models.TaskStatusDone
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return fmt.Errorf("marking task %s done: %w", t.ID, err)
	}

	if err := s.agents.Terminate(ctx, original); err != nil {
		return fmt.Errorf("terminating original agent %s: %w", original.ID, err)
	}
	return s.agents.Terminate(ctx, validator)
}

// parentPath resolves where a worktree merges to: the main repo for a
// top-level worktree, or the parent agent's own worktree path for a nested
// one (spec §4.4).
func (s *Service) parentPath(ctx context.Context, wt *models.Worktree) (string, error) {
	if wt.ParentAgentID == nil {
		return s.mainRepoDir, nil
	}
	parentWT, err := s.store.GetWorktreeByAgent(ctx, *wt.ParentAgentID)
	if err != nil {
		return "", fmt.Errorf("loading parent worktree for agent %s: %w", *wt.ParentAgentID, err)
	}
	return parentWT.Path, nil
}

// SubmitResult records a workflow-level result file and optionally spawns a
// result_validator (spec §4.10 "submit_result").
func (s *Service) SubmitResult(ctx context.Context, workflowID string, submitter *models.Agent, content string, spawnValidator bool) (*models.WorkflowResult, *models.Agent, error) {
	result := &models.WorkflowResult{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		AgentID:    submitter.ID,
		Content:    content,
	}
	if err := s.store.CreateWorkflowResult(ctx, result); err != nil {
		return nil, nil, fmt.Errorf("recording workflow result: %w", err)
	}
	if !spawnValidator {
		return result, nil, nil
	}

	wt, err := s.store.GetWorktreeByAgent(ctx, submitter.ID)
	workingDir := s.mainRepoDir
	if err == nil {
		workingDir = wt.Path
	}

	validator, err := s.agents.Spawn(ctx, agent.SpawnParams{
		Enriched:            fmt.Sprintf("Review the submitted workflow result:\n\n%s", content),
		AgentType:           models.AgentTypeResultValidator,
		WorkflowID:          &workflowID,
		ParentAgent:         submitter,
		UseExistingWorktree: true,
		ExistingWorktreeDir: workingDir,
	})
	if err != nil {
		return result, nil, fmt.Errorf("spawning result validator: %w", err)
	}
	return result, validator, nil
}

// SubmitWorkflowVerdict applies the validator's verdict to the workflow
// path. On pass, both agents are terminated. On fail, feedback is delivered
// to the submitting agent, which continues.
func (s *Service) SubmitWorkflowVerdict(ctx context.Context, result *models.WorkflowResult, submitter, validator *models.Agent, pass bool, feedback string) error {
	if !pass {
		if err := s.agents.Send(ctx, submitter, feedback); err != nil {
			return fmt.Errorf("delivering workflow result feedback: %w", err)
		}
		return s.agents.Terminate(ctx, validator)
	}

	if err := s.store.UpdateWorkflowResultValidated(ctx, result.ID, true); err != nil {
		return fmt.Errorf("marking workflow result %s validated: %w", result.ID, err)
	}
	if err := s.agents.Terminate(ctx, submitter); err != nil {
		return fmt.Errorf("terminating submitting agent %s: %w", submitter.ID, err)
	}
	return s.agents.Terminate(ctx, validator)
}
