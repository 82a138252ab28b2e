package models

import "time"

// SteeringType is the closed set of Guardian steering categories (§4.6).
type SteeringType string

const (
	SteeringTypeStuck               SteeringType = "stuck"
	SteeringTypeDrifting            SteeringType = "drifting"
	SteeringTypeViolatingConstraints SteeringType = "violating_constraints"
	SteeringTypeOverEngineering     SteeringType = "over_engineering"
	SteeringTypeConfused            SteeringType = "confused"
	SteeringTypeOffTrack            SteeringType = "off_track"
)

// GuardianAnalysis is one append-only per-agent trajectory analysis result
// (§4.6). Persisted every monitor tick for every eligible agent.
type GuardianAnalysis struct {
	ID      string
	AgentID string
	TaskID  *string

	CurrentPhase      string
	TrajectoryAligned bool
	AlignmentScore    float64
	AlignmentIssues   []string

	NeedsSteering          bool
	SteeringType           SteeringType
	SteeringRecommendation string

	TrajectorySummary      string
	LastClaudeMessageMarker string

	CreatedAt time.Time
}

// SteeringIntervention is one delivered (or discarded) steering message.
type SteeringIntervention struct {
	ID                 string
	AgentID            string
	GuardianAnalysisID *string
	SteeringType       SteeringType
	Message            string
	Delivered          bool
	DiscardedReason    string
	CreatedAt          time.Time
}

// ConductorAnalysis is one append-only system-wide coherence analysis
// result (§4.7). One row per monitor tick in which Conductor ran.
type ConductorAnalysis struct {
	ID    string
	Tick  time.Time

	CoherenceScore    float64
	AlignmentIssues   []string
	SystemSummary     string

	CreatedAt time.Time
}

// DetectedDuplicate records one Conductor-reported duplicate-work pair
// (§4.7), independent of TaskSimilarityService's task-text duplicates.
type DetectedDuplicate struct {
	ID                  string
	ConductorAnalysisID string
	Agent1ID            string
	Agent2ID            string
	Similarity          float64
	WorkDescription     string

	// Terminated records whether a terminate_duplicate decision was
	// actually executed for this pair (false when skipped by the
	// validator-type safety check, invariant 7, §8).
	Terminated       bool
	SkippedReason    string
	CreatedAt        time.Time
}
