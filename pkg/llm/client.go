// Package llm defines the capability interface Hephaestus calls into for
// every LLM-backed decision point: embedding generation, task enrichment,
// per-agent trajectory analysis (Guardian), and system-wide coherence
// analysis (Conductor). The interface is deliberately narrow: callers never
// see provider-specific message formats or tool-calling machinery, only
// typed requests and typed, schema-stable results (spec §6, §4.6, §4.7).
package llm

import (
	"context"

	"github.com/hephaestus-ai/hephaestus/pkg/models"
)

// Client is the capability interface every Guardian, Conductor, task
// enrichment, and embedding call goes through.
type Client interface {
	// Embed returns a deterministic, fixed-dimensionality vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EnrichTask expands a raw task description into an actionable one. Its
	// result is stored at most once per task; a failed call is retried by the
	// next enrichment attempt (spec §4.1, DESIGN.md open question #1).
	EnrichTask(ctx context.Context, req EnrichTaskRequest) (*EnrichTaskResult, error)

	// AnalyzeAgentTrajectory is Guardian's per-tick per-agent call (spec §4.6).
	AnalyzeAgentTrajectory(ctx context.Context, req TrajectoryRequest) (*TrajectoryResult, error)

	// AnalyzeSystemCoherence is Conductor's per-tick system-wide call (spec §4.7).
	AnalyzeSystemCoherence(ctx context.Context, req CoherenceRequest) (*CoherenceResult, error)
}

// EnrichTaskRequest carries everything enrich_task needs to expand a raw
// task description (spec §4.1).
type EnrichTaskRequest struct {
	RawDescription   string
	DoneCriterion    string
	Context          []string
	PhaseDescription string
}

// EnrichTaskResult is enrich_task's stable output schema.
type EnrichTaskResult struct {
	Enriched            string
	EstimatedComplexity string
}

// TrajectoryRequest is the `{accumulated_context, past_summaries, task_info,
// phase_info, last_message_marker, tmux_output}` payload from spec §4.6 step 4.
type TrajectoryRequest struct {
	AccumulatedContext string
	PastSummaries      []string
	TaskInfo           string
	PhaseInfo          string
	LastMessageMarker  string
	TmuxOutput         string
}

// TrajectoryResult is analyze_agent_trajectory's stable output schema
// (spec §4.6 step 5).
type TrajectoryResult struct {
	CurrentPhase            string
	TrajectoryAligned        bool
	AlignmentScore           float64
	AlignmentIssues          []string
	NeedsSteering            bool
	SteeringType             models.SteeringType
	SteeringRecommendation   string
	TrajectorySummary        string
	LastClaudeMessageMarker  string
}

// CoherenceRequest is the `{summaries, system_goals}` payload from spec §4.7.
type CoherenceRequest struct {
	Summaries   []string
	SystemGoals string
}

// CoherenceResult is analyze_system_coherence's stable output schema
// (spec §4.7).
type CoherenceResult struct {
	CoherenceScore              float64
	Duplicates                  []DuplicatePair
	AlignmentIssues             []string
	TerminationRecommendations  []TerminationRecommendation
	CoordinationNeeds           []CoordinationNeed
	SystemSummary               string
}

// DuplicatePair is one Conductor-detected duplicate-work pair.
type DuplicatePair struct {
	Agent1     string
	Agent2     string
	Similarity float64
	Work       string
}

// TerminationRecommendation is one Conductor-recommended agent termination.
type TerminationRecommendation struct {
	AgentID string
	Reason  string
}

// CoordinationNeed is one Conductor-detected resource coordination need.
type CoordinationNeed struct {
	Agents   []string
	Resource string
	Action   string
}
