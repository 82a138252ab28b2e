// Package conductor implements Conductor (spec §4.7): the system-wide
// counterpart to Guardian. Once a tick's per-agent Guardian summaries are
// in, Conductor asks the LLM for a single coherence verdict across the
// whole active set and executes whatever it recommends — terminating
// duplicated work (never a validator-type agent), nudging agents to
// coordinate over a shared resource, and escalating on low coherence.
package conductor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hephaestus-ai/hephaestus/pkg/config"
	"github.com/hephaestus-ai/hephaestus/pkg/llm"
	"github.com/hephaestus-ai/hephaestus/pkg/models"
)

// Store is the subset of pkg/store.Store Conductor needs.
type Store interface {
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	CreateConductorAnalysis(ctx context.Context, c *models.ConductorAnalysis) error
	CreateDetectedDuplicate(ctx context.Context, d *models.DetectedDuplicate) error
}

// Terminator is the subset of pkg/agent.Manager Conductor needs to execute
// a terminate_duplicate decision.
type Terminator interface {
	Terminate(ctx context.Context, a *models.Agent) error
}

// Messenger is the subset of pkg/agent.Manager Conductor needs to deliver a
// coordination message.
type Messenger interface {
	Send(ctx context.Context, a *models.Agent, text string) error
}

// Analyzer is the subset of pkg/llm.Client Conductor needs.
type Analyzer interface {
	AnalyzeSystemCoherence(ctx context.Context, req llm.CoherenceRequest) (*llm.CoherenceResult, error)
}

// Service implements Conductor.
type Service struct {
	store      Store
	terminator Terminator
	messenger  Messenger
	llmc       Analyzer
	cfg        *config.ConductorConfig
}

// NewService builds a Service. cfg may be nil to fall back to
// config.DefaultConductorConfig().
func NewService(st Store, terminator Terminator, messenger Messenger, llmc Analyzer, cfg *config.ConductorConfig) *Service {
	if cfg == nil {
		cfg = config.DefaultConductorConfig()
	}
	return &Service{store: st, terminator: terminator, messenger: messenger, llmc: llmc, cfg: cfg}
}

// Run executes one Conductor pass over the trajectory summaries collected
// during the current tick. It returns (nil, nil) when Conductor is disabled
// or there is nothing to analyze (spec §4.8 step 3: "if any summaries, run
// Conductor once").
func (s *Service) Run(ctx context.Context, summaries []string, systemGoals string) (*models.ConductorAnalysis, error) {
	if !s.cfg.Enabled || len(summaries) == 0 {
		return nil, nil
	}

	result, err := s.llmc.AnalyzeSystemCoherence(ctx, llm.CoherenceRequest{Summaries: summaries, SystemGoals: systemGoals})
	if err != nil {
		// LLM failure degrades to an empty analysis rather than aborting
		// the tick (spec §7: "empty analysis for Conductor").
		result = &llm.CoherenceResult{}
	}

	analysis := &models.ConductorAnalysis{
		ID:              uuid.NewString(),
		Tick:            time.Now(),
		CoherenceScore:  result.CoherenceScore,
		AlignmentIssues: result.AlignmentIssues,
		SystemSummary:   result.SystemSummary,
	}
	if err := s.store.CreateConductorAnalysis(ctx, analysis); err != nil {
		return nil, fmt.Errorf("persisting conductor analysis: %w", err)
	}

	terminated, skipReasons := s.executeTerminations(ctx, result.TerminationRecommendations)
	s.persistDuplicates(ctx, analysis.ID, result.Duplicates, terminated, skipReasons)
	s.coordinate(ctx, result.CoordinationNeeds)

	if result.CoherenceScore < s.cfg.CoherenceEscalateThreshold {
		slog.Error("Conductor: system coherence below escalation threshold",
			"score", result.CoherenceScore, "threshold", s.cfg.CoherenceEscalateThreshold,
			"issues", result.AlignmentIssues)
	}

	return analysis, nil
}

// executeTerminations runs the terminate_duplicate decision for every
// recommendation, skipping validator-type targets (invariant 7, §8).
func (s *Service) executeTerminations(ctx context.Context, recs []llm.TerminationRecommendation) (terminated map[string]bool, skipReasons map[string]string) {
	terminated = make(map[string]bool)
	skipReasons = make(map[string]string)

	for _, rec := range recs {
		agent, err := s.store.GetAgent(ctx, rec.AgentID)
		if err != nil {
			skipReasons[rec.AgentID] = fmt.Sprintf("agent lookup failed: %v", err)
			continue
		}
		if agent.AgentType.IsValidatorType() {
			skipReasons[rec.AgentID] = "target is a validator-type agent"
			continue
		}
		if err := s.terminator.Terminate(ctx, agent); err != nil {
			skipReasons[rec.AgentID] = fmt.Sprintf("termination failed: %v", err)
			continue
		}
		terminated[rec.AgentID] = true
	}
	return terminated, skipReasons
}

// persistDuplicates records one DetectedDuplicate row per reported pair,
// correlating it with whichever side of the pair was actually terminated
// (or the reason it was skipped) by executeTerminations.
func (s *Service) persistDuplicates(ctx context.Context, analysisID string, dups []llm.DuplicatePair, terminated map[string]bool, skipReasons map[string]string) {
	for _, dup := range dups {
		d := &models.DetectedDuplicate{
			ID:                  uuid.NewString(),
			ConductorAnalysisID: analysisID,
			Agent1ID:            dup.Agent1,
			Agent2ID:            dup.Agent2,
			Similarity:          dup.Similarity,
			WorkDescription:     dup.Work,
		}
		switch {
		case terminated[dup.Agent1] || terminated[dup.Agent2]:
			d.Terminated = true
		case skipReasons[dup.Agent1] != "":
			d.SkippedReason = skipReasons[dup.Agent1]
		case skipReasons[dup.Agent2] != "":
			d.SkippedReason = skipReasons[dup.Agent2]
		}
		if err := s.store.CreateDetectedDuplicate(ctx, d); err != nil {
			slog.Error("Conductor: recording detected duplicate failed", "error", err)
		}
	}
}

// coordinate delivers ordered coordination messages for every coordination
// need (spec §4.7): the first listed agent gets "priority access" to the
// resource, every later one is told to "please wait for" the first.
func (s *Service) coordinate(ctx context.Context, needs []llm.CoordinationNeed) {
	for _, need := range needs {
		for i, agentID := range need.Agents {
			msg := fmt.Sprintf("[CONDUCTOR COORDINATION]: priority access to resource %q: %s", need.Resource, need.Action)
			if i > 0 {
				msg = fmt.Sprintf("[CONDUCTOR COORDINATION]: please wait for agent %s to finish with resource %q: %s", need.Agents[0], need.Resource, need.Action)
			}
			agent, err := s.store.GetAgent(ctx, agentID)
			if err != nil {
				continue
			}
			if err := s.messenger.Send(ctx, agent, msg); err != nil {
				slog.Error("Conductor: sending coordination message failed", "agent_id", agentID, "error", err)
			}
		}
	}
}
