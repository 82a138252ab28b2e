// Package guardian implements Guardian (spec §4.6): per-agent trajectory
// analysis. For each eligible agent, it folds that agent's AgentLog history
// into an accumulated context, hands it to the LLM alongside fresh terminal
// output, persists the verdict, and delivers steering through AgentManager
// when the LLM asks for it. MonitorLoop drives one tick; Guardian drives one
// agent within that tick, fanning the whole active set out concurrently.
package guardian

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hephaestus-ai/hephaestus/pkg/config"
	"github.com/hephaestus-ai/hephaestus/pkg/llm"
	"github.com/hephaestus-ai/hephaestus/pkg/models"
)

// contextLogTypes are the AgentLog types folded into the accumulated
// context (spec §4.6 step 3).
var contextLogTypes = []models.AgentLogType{
	models.AgentLogTypeInput,
	models.AgentLogTypeOutput,
	models.AgentLogTypeMessage,
	models.AgentLogTypeSteering,
	models.AgentLogTypeIntervention,
}

// Store is the subset of pkg/store.Store Guardian needs.
type Store interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
	GetPhase(ctx context.Context, id string) (*models.Phase, error)
	ListAgentLogsByTypes(ctx context.Context, agentID string, types []models.AgentLogType) ([]*models.AgentLog, error)
	ListRecentGuardianAnalyses(ctx context.Context, agentID string, limit int) ([]*models.GuardianAnalysis, error)
	CreateGuardianAnalysis(ctx context.Context, g *models.GuardianAnalysis) error
	UpdateAgent(ctx context.Context, a *models.Agent) error
	CreateSteeringIntervention(ctx context.Context, si *models.SteeringIntervention) error
	CountRecentSteeringInterventions(ctx context.Context, agentID string, since time.Time) (int, error)
}

// AgentOutput is the subset of pkg/agent.Manager Guardian needs to read a
// session's recent terminal output.
type AgentOutput interface {
	Output(ctx context.Context, a *models.Agent, n int) (string, error)
}

// Steerer is the subset of pkg/agent.Manager Guardian needs to deliver a
// steering message (which itself honors the anti-spam invariant, §4.5).
type Steerer interface {
	Send(ctx context.Context, a *models.Agent, text string) error
}

// Analyzer is the subset of pkg/llm.Client Guardian needs.
type Analyzer interface {
	AnalyzeAgentTrajectory(ctx context.Context, req llm.TrajectoryRequest) (*llm.TrajectoryResult, error)
}

// Service implements Guardian.
type Service struct {
	store  Store
	output AgentOutput
	send   Steerer
	llmc   Analyzer
	cfg    *config.GuardianConfig
	tmuxOutputLines int
}

// NewService builds a Service. cfg may be nil to fall back to
// config.DefaultGuardianConfig().
func NewService(st Store, output AgentOutput, send Steerer, llmc Analyzer, cfg *config.GuardianConfig, tmuxOutputLines int) *Service {
	if cfg == nil {
		cfg = config.DefaultGuardianConfig()
	}
	if tmuxOutputLines <= 0 {
		tmuxOutputLines = 200
	}
	return &Service{store: st, output: output, send: send, llmc: llmc, cfg: cfg, tmuxOutputLines: tmuxOutputLines}
}

// Eligible reports whether a is old enough to be analyzed this tick (spec
// §4.6: "agent older than min_agent_age").
func (s *Service) Eligible(a *models.Agent, now time.Time) bool {
	return now.Sub(a.CreatedAt) >= s.cfg.MinAgentAge
}

// Result is one agent's outcome from a tick's Guardian pass. Err is set
// when that agent's analysis failed; Analysis is nil in that case and the
// agent is simply skipped for this tick, per spec §4.8 step 2: "errors
// per-agent isolated".
type Result struct {
	Agent    *models.Agent
	Analysis *models.GuardianAnalysis
	Err      error
}

// AnalyzeAll runs Analyze for every eligible agent concurrently and waits
// for all of them, isolating each agent's failure from the rest (spec §4.8
// step 2).
func (s *Service) AnalyzeAll(ctx context.Context, agents []*models.Agent, now time.Time) []Result {
	var (
		mu      sync.Mutex
		results []Result
		g       errgroup.Group
	)
	for _, a := range agents {
		a := a
		if !s.Eligible(a, now) {
			continue
		}
		g.Go(func() error {
			analysis, err := s.Analyze(ctx, a)
			mu.Lock()
			results = append(results, Result{Agent: a, Analysis: analysis, Err: err})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Analyze runs one full Guardian pass for a single agent: capture, load
// history, build accumulated context, call the LLM, persist the verdict,
// update health, and steer if asked to (spec §4.6 steps 1-8).
func (s *Service) Analyze(ctx context.Context, a *models.Agent) (*models.GuardianAnalysis, error) {
	tmuxOutput, err := s.output.Output(ctx, a, s.tmuxOutputLines)
	if err != nil {
		return nil, fmt.Errorf("capturing output for agent %s: %w", a.ID, err)
	}

	pastAnalyses, err := s.store.ListRecentGuardianAnalyses(ctx, a.ID, s.cfg.PastSummariesLimit)
	if err != nil {
		return nil, fmt.Errorf("loading past summaries for agent %s: %w", a.ID, err)
	}
	pastSummaries := make([]string, len(pastAnalyses))
	for i, p := range pastAnalyses {
		pastSummaries[i] = p.TrajectorySummary
	}
	var lastMarker string
	if len(pastAnalyses) > 0 {
		lastMarker = pastAnalyses[0].LastClaudeMessageMarker
	}

	logs, err := s.store.ListAgentLogsByTypes(ctx, a.ID, contextLogTypes)
	if err != nil {
		return nil, fmt.Errorf("loading agent log history for agent %s: %w", a.ID, err)
	}
	accumulated := buildAccumulatedContext(logs)

	taskInfo, phaseInfo := s.loadTaskAndPhaseInfo(ctx, a)

	result, err := s.llmc.AnalyzeAgentTrajectory(ctx, llm.TrajectoryRequest{
		AccumulatedContext: accumulated,
		PastSummaries:      pastSummaries,
		TaskInfo:           taskInfo,
		PhaseInfo:          phaseInfo,
		LastMessageMarker:  lastMarker,
		TmuxOutput:         tmuxOutput,
	})
	if err != nil {
		// LLM call failure degrades to a default "healthy" analysis rather
		// than aborting the tick for this agent (spec §7).
		result = &llm.TrajectoryResult{TrajectoryAligned: true, AlignmentScore: 1}
	}

	analysis := &models.GuardianAnalysis{
		ID:                      uuid.NewString(),
		AgentID:                 a.ID,
		TaskID:                  a.CurrentTaskID,
		CurrentPhase:            result.CurrentPhase,
		TrajectoryAligned:       result.TrajectoryAligned,
		AlignmentScore:          result.AlignmentScore,
		AlignmentIssues:         result.AlignmentIssues,
		NeedsSteering:           result.NeedsSteering,
		SteeringType:            result.SteeringType,
		SteeringRecommendation:  result.SteeringRecommendation,
		TrajectorySummary:       result.TrajectorySummary,
		LastClaudeMessageMarker: result.LastClaudeMessageMarker,
	}
	if err := s.store.CreateGuardianAnalysis(ctx, analysis); err != nil {
		return nil, fmt.Errorf("persisting guardian analysis for agent %s: %w", a.ID, err)
	}

	if err := s.updateHealth(ctx, a, result); err != nil {
		return nil, fmt.Errorf("updating health for agent %s: %w", a.ID, err)
	}

	if result.NeedsSteering {
		if err := s.steer(ctx, a, analysis); err != nil {
			return nil, fmt.Errorf("steering agent %s: %w", a.ID, err)
		}
	}

	return analysis, nil
}

func (s *Service) loadTaskAndPhaseInfo(ctx context.Context, a *models.Agent) (taskInfo, phaseInfo string) {
	if a.CurrentTaskID == nil {
		return "", ""
	}
	task, err := s.store.GetTask(ctx, *a.CurrentTaskID)
	if err != nil {
		return "", ""
	}
	taskInfo = fmt.Sprintf("task: %s\ndone when: %s", task.EnrichedDescription, task.DoneCriterion)
	if task.PhaseID == nil {
		return taskInfo, ""
	}
	phase, err := s.store.GetPhase(ctx, *task.PhaseID)
	if err != nil {
		return taskInfo, ""
	}
	phaseInfo = fmt.Sprintf("phase: %s\ndone criteria: %s", phase.Description, strings.Join(phase.DoneDefinitions, "; "))
	return taskInfo, phaseInfo
}

// updateHealth applies spec §4.6 step 7's health_check_failures policy,
// clamped to MaxHealthCheckFailures.
func (s *Service) updateHealth(ctx context.Context, a *models.Agent, result *llm.TrajectoryResult) error {
	switch {
	case result.TrajectoryAligned:
		a.HealthCheckFailures = 0
	case result.AlignmentScore < 0.3:
		a.HealthCheckFailures += 2
	case result.AlignmentScore < 0.5:
		a.HealthCheckFailures++
	}
	if a.HealthCheckFailures > s.cfg.MaxHealthCheckFailures {
		a.HealthCheckFailures = s.cfg.MaxHealthCheckFailures
	}
	return s.store.UpdateAgent(ctx, a)
}

// steer delivers a steering message honoring the per-agent throttle (spec
// §4.6 step 8, invariant 10 §8): at most one delivered steering message per
// agent per SteeringThrottle window. A throttled attempt is still recorded,
// undelivered, for audit.
func (s *Service) steer(ctx context.Context, a *models.Agent, analysis *models.GuardianAnalysis) error {
	since := time.Now().Add(-s.cfg.SteeringThrottle)
	recent, err := s.store.CountRecentSteeringInterventions(ctx, a.ID, since)
	if err != nil {
		return fmt.Errorf("checking steering throttle: %w", err)
	}

	si := &models.SteeringIntervention{
		ID:                 uuid.NewString(),
		AgentID:            a.ID,
		GuardianAnalysisID: &analysis.ID,
		SteeringType:       analysis.SteeringType,
		Message:            analysis.SteeringRecommendation,
	}

	if recent > 0 {
		si.Delivered = false
		si.DiscardedReason = "throttled: steering already sent within the configured window"
		return s.store.CreateSteeringIntervention(ctx, si)
	}

	msg := fmt.Sprintf("[GUARDIAN GUIDANCE - %s]: %s", strings.ToUpper(string(analysis.SteeringType)), analysis.SteeringRecommendation)
	if err := s.send.Send(ctx, a, msg); err != nil {
		return fmt.Errorf("sending steering message: %w", err)
	}
	si.Delivered = true
	return s.store.CreateSteeringIntervention(ctx, si)
}
