// Package monitor implements MonitorLoop (spec §4.8): the single tick driver
// that fans Guardian out over every active agent, runs Conductor once on
// whatever summaries came back, sweeps orphaned sessions, advances workflow
// phases, and fires the stuck-workflow diagnostic — in that order, once per
// tick period T. Shape mirrors the teacher's WorkerPool.run loop: one
// goroutine, a ticker, a context-cancellation drain on shutdown.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hephaestus-ai/hephaestus/pkg/agent"
	"github.com/hephaestus-ai/hephaestus/pkg/config"
	"github.com/hephaestus-ai/hephaestus/pkg/conductor"
	"github.com/hephaestus-ai/hephaestus/pkg/guardian"
	"github.com/hephaestus-ai/hephaestus/pkg/models"
	"github.com/hephaestus-ai/hephaestus/pkg/store"
	"github.com/hephaestus-ai/hephaestus/pkg/task"
	"github.com/hephaestus-ai/hephaestus/pkg/tmux"
)

// sessionNamePrefix is the prefix AgentManager.Spawn stamps on every session
// it creates; the orphan sweep only ever touches sessions matching it (spec
// §4.8 step 4: "whose names match the agent pattern").
const sessionNamePrefix = "hephaestus-"

// Store is the subset of pkg/store.Store MonitorLoop needs directly (beyond
// what it hands to Guardian/Conductor/phase-progression).
type Store interface {
	ListActiveAgents(ctx context.Context) ([]*models.Agent, error)
	ActiveWorkflow(ctx context.Context) (*models.Workflow, error)
	ListPhasesByWorkflow(ctx context.Context, workflowID string) ([]*models.Phase, error)
	ListTasksByStatus(ctx context.Context, workflowID *string, statuses []models.TaskStatus) ([]*models.Task, error)
	ListWorkflowResults(ctx context.Context, workflowID string) ([]*models.WorkflowResult, error)
	ListAgentsByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.Agent, error)
	ListRecentConductorAnalyses(ctx context.Context, limit int) ([]*models.ConductorAnalysis, error)
	CreateDiagnosticRun(ctx context.Context, d *models.DiagnosticRun) error
	LatestDiagnosticRun(ctx context.Context, workflowID string) (*models.DiagnosticRun, error)
}

// SessionLister is the subset of pkg/tmux.Host the orphan sweep needs.
type SessionLister interface {
	Sessions() []tmux.SessionInfo
	Kill(name string) error
}

// GuardianRunner is the subset of pkg/guardian.Service MonitorLoop needs.
type GuardianRunner interface {
	AnalyzeAll(ctx context.Context, agents []*models.Agent, now time.Time) []guardian.Result
}

// ConductorRunner is the subset of pkg/conductor.Service MonitorLoop needs.
type ConductorRunner interface {
	Run(ctx context.Context, summaries []string, systemGoals string) (*models.ConductorAnalysis, error)
}

// PhaseProgressor is the subset of pkg/workflow.Service MonitorLoop needs.
type PhaseProgressor interface {
	Advance(ctx context.Context) error
}

// TaskCreator is the subset of pkg/task.Service MonitorLoop needs to spawn
// the diagnostic task. CreateWithoutDispatch/MarkAssigned keep the
// diagnostic task off the normal admit→dequeue→phase-agent path (spec §4.9
// wants exactly one diagnostic agent, in the main repo path, no worktree).
type TaskCreator interface {
	CreateWithoutDispatch(ctx context.Context, p task.CreateParams) (*models.Task, error)
	MarkAssigned(ctx context.Context, t *models.Task, agentID string) error
}

// AgentSpawner is the subset of pkg/agent.Manager MonitorLoop needs to spawn
// the diagnostic agent.
type AgentSpawner interface {
	Spawn(ctx context.Context, p agent.SpawnParams) (*models.Agent, error)
}

// allTaskStatuses enumerates every TaskStatus, used to fetch a workflow's
// full task list (the store's list API always filters by an explicit set).
var allTaskStatuses = []models.TaskStatus{
	models.TaskStatusPending, models.TaskStatusQueued, models.TaskStatusBlocked,
	models.TaskStatusAssigned, models.TaskStatusInProgress, models.TaskStatusUnderReview,
	models.TaskStatusValidationInProgress, models.TaskStatusNeedsWork,
	models.TaskStatusDone, models.TaskStatusFailed, models.TaskStatusDuplicated,
}

// activeTaskStatuses are the non-terminal statuses; a workflow with zero
// tasks in any of these is eligible for the stuck-workflow diagnostic.
var activeTaskStatuses = []models.TaskStatus{
	models.TaskStatusPending, models.TaskStatusQueued, models.TaskStatusBlocked,
	models.TaskStatusAssigned, models.TaskStatusInProgress, models.TaskStatusUnderReview,
	models.TaskStatusValidationInProgress, models.TaskStatusNeedsWork,
}

// Service drives MonitorLoop.
type Service struct {
	store       Store
	sessions    SessionLister
	guardian    GuardianRunner
	conductor   ConductorRunner
	progression PhaseProgressor
	tasks       TaskCreator
	agents      AgentSpawner

	cfg         *config.MonitorConfig
	diagCfg     *config.DiagnosticConfig
	orphanGrace time.Duration
	mainRepoDir string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService builds a Service. cfg/diagCfg may be nil to fall back to their
// package defaults. orphanGrace should be max(2*TickInterval, Guardian's
// MinAgentAge) per the grace-period rule in spec §4.8 step 4.
func NewService(st Store, sessions SessionLister, g GuardianRunner, c ConductorRunner, p PhaseProgressor, tasks TaskCreator, agents AgentSpawner, cfg *config.MonitorConfig, diagCfg *config.DiagnosticConfig, orphanGrace time.Duration, mainRepoDir string) *Service {
	if cfg == nil {
		cfg = config.DefaultMonitorConfig()
	}
	if diagCfg == nil {
		diagCfg = config.DefaultDiagnosticConfig()
	}
	return &Service{
		store: st, sessions: sessions, guardian: g, conductor: c, progression: p,
		tasks: tasks, agents: agents, cfg: cfg, diagCfg: diagCfg,
		orphanGrace: orphanGrace, mainRepoDir: mainRepoDir,
	}
}

// Start launches the tick loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
	slog.Info("MonitorLoop started", "tick_interval", s.cfg.TickInterval)
}

// Stop signals the loop to exit and waits for the in-flight tick to drain
// (spec §5: "honors a shutdown signal... do not start next").
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("MonitorLoop stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs exactly one MonitorLoop pass (spec §4.8 steps 1-6). If listing
// the active agents fails, the tick logs and returns without running any
// later step; past that point each step logs and continues past its own
// failure, so a bad Conductor call does not suppress the orphan sweep,
// phase progression or diagnostic.
func (s *Service) Tick(ctx context.Context) {
	now := time.Now()

	agents, err := s.store.ListActiveAgents(ctx)
	if err != nil {
		slog.Error("MonitorLoop: listing active agents failed", "error", err)
		return
	}

	results := s.guardian.AnalyzeAll(ctx, agents, now)
	summaries := make([]string, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			slog.Error("MonitorLoop: guardian analysis failed", "agent_id", r.Agent.ID, "error", r.Err)
			continue
		}
		if r.Analysis.TrajectorySummary != "" {
			summaries = append(summaries, r.Analysis.TrajectorySummary)
		}
	}

	if len(summaries) > 0 {
		systemGoals := s.activeWorkflowGoal(ctx)
		if _, err := s.conductor.Run(ctx, summaries, systemGoals); err != nil {
			slog.Error("MonitorLoop: conductor run failed", "error", err)
		}
	}

	s.sweepOrphans(agents)

	if err := s.progression.Advance(ctx); err != nil {
		slog.Error("MonitorLoop: phase progression failed", "error", err)
	}

	if err := s.runDiagnostic(ctx); err != nil {
		slog.Error("MonitorLoop: stuck-workflow diagnostic failed", "error", err)
	}
}

func (s *Service) activeWorkflowGoal(ctx context.Context) string {
	wf, err := s.store.ActiveWorkflow(ctx)
	if err != nil {
		return ""
	}
	return wf.Goal
}

// sweepOrphans kills any tracked session matching sessionNamePrefix that is
// older than orphanGrace and has no corresponding non-terminated agent (spec
// §4.8 step 4).
func (s *Service) sweepOrphans(activeAgents []*models.Agent) {
	live := make(map[string]bool, len(activeAgents))
	for _, a := range activeAgents {
		live[a.SessionName] = true
	}

	now := time.Now()
	for _, sess := range s.sessions.Sessions() {
		if !strings.HasPrefix(sess.Name, sessionNamePrefix) {
			continue
		}
		if live[sess.Name] {
			continue
		}
		if now.Sub(sess.CreatedAt) < s.orphanGrace {
			continue
		}
		if err := s.sessions.Kill(sess.Name); err != nil {
			slog.Error("MonitorLoop: killing orphaned session failed", "session", sess.Name, "error", err)
			continue
		}
		slog.Warn("MonitorLoop: killed orphaned session", "session", sess.Name)
	}
}

// runDiagnostic evaluates the stuck-workflow trigger conditions (spec §4.9)
// and, if all hold, spawns a one-off diagnostic agent in the main repo path.
func (s *Service) runDiagnostic(ctx context.Context) error {
	if !s.diagCfg.Enabled {
		return nil
	}

	wf, err := s.store.ActiveWorkflow(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoActiveWorkflow) || errors.Is(err, store.ErrMultipleActiveWorkflows) {
			return nil
		}
		return fmt.Errorf("resolving active workflow: %w", err)
	}

	allTasks, err := s.store.ListTasksByStatus(ctx, &wf.ID, allTaskStatuses)
	if err != nil {
		return fmt.Errorf("listing workflow tasks: %w", err)
	}
	if len(allTasks) == 0 {
		return nil
	}

	activeTasks, err := s.store.ListTasksByStatus(ctx, &wf.ID, activeTaskStatuses)
	if err != nil {
		return fmt.Errorf("listing active workflow tasks: %w", err)
	}
	if len(activeTasks) != 0 {
		return nil
	}

	results, err := s.store.ListWorkflowResults(ctx, wf.ID)
	if err != nil {
		return fmt.Errorf("listing workflow results: %w", err)
	}
	for _, r := range results {
		if r.Validated {
			return nil
		}
	}

	if last, err := s.store.LatestDiagnosticRun(ctx, wf.ID); err == nil {
		if time.Since(last.TriggeredAt) < s.diagCfg.Cooldown {
			return nil
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("loading latest diagnostic run: %w", err)
	}

	lastActivity := allTasks[0].UpdatedAt
	for _, t := range allTasks {
		if t.UpdatedAt.After(lastActivity) {
			lastActivity = t.UpdatedAt
		}
	}
	if time.Since(lastActivity) < s.diagCfg.MinStuckTime {
		return nil
	}

	return s.trigger(ctx, wf)
}

func (s *Service) trigger(ctx context.Context, wf *models.Workflow) error {
	phases, err := s.store.ListPhasesByWorkflow(ctx, wf.ID)
	if err != nil {
		return fmt.Errorf("listing phases for diagnostic context: %w", err)
	}
	terminated, err := s.store.ListAgentsByWorkflow(ctx, wf.ID, s.diagCfg.MaxAgentsToAnalyze)
	if err != nil {
		return fmt.Errorf("listing agents for diagnostic context: %w", err)
	}
	conductorAnalyses, err := s.store.ListRecentConductorAnalyses(ctx, s.diagCfg.MaxConductorAnalyses)
	if err != nil {
		return fmt.Errorf("listing conductor analyses for diagnostic context: %w", err)
	}
	results, err := s.store.ListWorkflowResults(ctx, wf.ID)
	if err != nil {
		return fmt.Errorf("listing workflow results for diagnostic context: %w", err)
	}

	contextSnapshot := renderDiagnosticContext(wf, phases, terminated, conductorAnalyses, results)

	// CreateWithoutDispatch persists/enriches the diagnostic task without
	// draining it through QueueService: this path spawns exactly one
	// diagnostic agent itself, in the main repo path with no new worktree
	// (spec §4.9), rather than also letting ProcessQueue admit a phase
	// agent into a fresh worktree for the same task.
	diagTask, err := s.tasks.CreateWithoutDispatch(ctx, task.CreateParams{
		RawDescription: contextSnapshot,
		DoneCriterion:  "create 1-5 new tasks that push the workflow toward its goal",
		Priority:       models.TaskPriorityHigh,
		WorkflowID:     &wf.ID,
	})
	if err != nil {
		return fmt.Errorf("creating diagnostic task: %w", err)
	}

	diagAgent, err := s.agents.Spawn(ctx, agent.SpawnParams{
		Task:                diagTask,
		Enriched:            diagTask.EnrichedDescription,
		AgentType:           models.AgentTypeDiagnostic,
		WorkflowID:          &wf.ID,
		UseExistingWorktree: true,
		ExistingWorktreeDir: s.mainRepoDir,
	})
	if err != nil {
		return fmt.Errorf("spawning diagnostic agent: %w", err)
	}

	if err := s.tasks.MarkAssigned(ctx, diagTask, diagAgent.ID); err != nil {
		return fmt.Errorf("assigning diagnostic task %s to agent %s: %w", diagTask.ID, diagAgent.ID, err)
	}

	return s.store.CreateDiagnosticRun(ctx, &models.DiagnosticRun{
		ID:                uuid.NewString(),
		WorkflowID:        wf.ID,
		TriggeredAt:       time.Now(),
		ContextSnapshot:   contextSnapshot,
		DiagnosticAgentID: diagAgent.ID,
	})
}

func renderDiagnosticContext(wf *models.Workflow, phases []*models.Phase, terminated []*models.Agent, conductorAnalyses []*models.ConductorAnalysis, results []*models.WorkflowResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "workflow goal: %s\n\nphases:\n", wf.Goal)
	for _, p := range phases {
		fmt.Fprintf(&sb, "- [%s] #%d %s\n", p.Status, p.Order, p.Description)
	}

	sb.WriteString("\nrecent terminated agents:\n")
	for _, a := range terminated {
		if a.Status != models.AgentStatusTerminated {
			continue
		}
		fmt.Fprintf(&sb, "- %s (%s)\n", a.ID, a.AgentType)
	}

	sb.WriteString("\nrecent conductor analyses:\n")
	for _, c := range conductorAnalyses {
		fmt.Fprintf(&sb, "- score=%.2f %s\n", c.CoherenceScore, c.SystemSummary)
	}

	sb.WriteString("\nsubmitted results:\n")
	for _, r := range results {
		fmt.Fprintf(&sb, "- validated=%v agent=%s\n", r.Validated, r.AgentID)
	}

	return sb.String()
}
