package store

import (
	"context"
	"fmt"
	"time"

	"github.com/hephaestus-ai/hephaestus/pkg/models"
)

// CreateGuardianAnalysis inserts one append-only per-agent trajectory
// analysis result (spec §4.6).
func (s *Store) CreateGuardianAnalysis(ctx context.Context, g *models.GuardianAnalysis) error {
	g.CreatedAt = time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO guardian_analyses (id, agent_id, task_id, current_phase,
			trajectory_aligned, alignment_score, alignment_issues, needs_steering,
			steering_type, steering_recommendation, trajectory_summary,
			last_claude_message_marker, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		g.ID, g.AgentID, g.TaskID, g.CurrentPhase,
		g.TrajectoryAligned, g.AlignmentScore, g.AlignmentIssues, g.NeedsSteering,
		g.SteeringType, g.SteeringRecommendation, g.TrajectorySummary,
		g.LastClaudeMessageMarker, g.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting guardian analysis: %w", err)
	}
	return nil
}

// LatestGuardianAnalysis returns the most recent analysis for an agent, the
// baseline Guardian diffs the next tick's trajectory against.
func (s *Store) LatestGuardianAnalysis(ctx context.Context, agentID string) (*models.GuardianAnalysis, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, agent_id, task_id, current_phase, trajectory_aligned,
			alignment_score, alignment_issues, needs_steering, steering_type,
			steering_recommendation, trajectory_summary, last_claude_message_marker,
			created_at
		FROM guardian_analyses WHERE agent_id = $1
		ORDER BY created_at DESC LIMIT 1`, agentID)
	var g models.GuardianAnalysis
	if err := row.Scan(&g.ID, &g.AgentID, &g.TaskID, &g.CurrentPhase, &g.TrajectoryAligned,
		&g.AlignmentScore, &g.AlignmentIssues, &g.NeedsSteering, &g.SteeringType,
		&g.SteeringRecommendation, &g.TrajectorySummary, &g.LastClaudeMessageMarker,
		&g.CreatedAt); err != nil {
		return nil, ErrNotFound
	}
	return &g, nil
}

// ListRecentGuardianAnalyses returns an agent's last limit analyses, newest
// first — Guardian's "past Guardian summaries" context input (spec §4.6
// step 2).
func (s *Store) ListRecentGuardianAnalyses(ctx context.Context, agentID string, limit int) ([]*models.GuardianAnalysis, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, agent_id, task_id, current_phase, trajectory_aligned,
			alignment_score, alignment_issues, needs_steering, steering_type,
			steering_recommendation, trajectory_summary, last_claude_message_marker,
			created_at
		FROM guardian_analyses WHERE agent_id = $1
		ORDER BY created_at DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent guardian analyses: %w", err)
	}
	defer rows.Close()

	var out []*models.GuardianAnalysis
	for rows.Next() {
		var g models.GuardianAnalysis
		if err := rows.Scan(&g.ID, &g.AgentID, &g.TaskID, &g.CurrentPhase, &g.TrajectoryAligned,
			&g.AlignmentScore, &g.AlignmentIssues, &g.NeedsSteering, &g.SteeringType,
			&g.SteeringRecommendation, &g.TrajectorySummary, &g.LastClaudeMessageMarker,
			&g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning guardian analysis row: %w", err)
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}

// CreateSteeringIntervention records a delivered or discarded steering
// message (spec §4.6, anti-spam invariant in §4.5).
func (s *Store) CreateSteeringIntervention(ctx context.Context, si *models.SteeringIntervention) error {
	si.CreatedAt = time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO steering_interventions (id, agent_id, guardian_analysis_id,
			steering_type, message, delivered, discarded_reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		si.ID, si.AgentID, si.GuardianAnalysisID, si.SteeringType,
		si.Message, si.Delivered, si.DiscardedReason, si.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting steering intervention: %w", err)
	}
	return nil
}

// CountRecentSteeringInterventions counts delivered interventions for an
// agent since since, used by Guardian's steering-throttle policy (spec §4.6:
// "no more than one steering intervention per agent per N ticks").
func (s *Store) CountRecentSteeringInterventions(ctx context.Context, agentID string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM steering_interventions
		WHERE agent_id = $1 AND delivered = true AND created_at >= $2`, agentID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting recent steering interventions: %w", err)
	}
	return count, nil
}

// CreateConductorAnalysis inserts one append-only system-wide coherence
// analysis result (spec §4.7).
func (s *Store) CreateConductorAnalysis(ctx context.Context, c *models.ConductorAnalysis) error {
	c.CreatedAt = time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conductor_analyses (id, tick, coherence_score, alignment_issues,
			system_summary, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		c.ID, c.Tick, c.CoherenceScore, c.AlignmentIssues, c.SystemSummary, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting conductor analysis: %w", err)
	}
	return nil
}

// ListRecentConductorAnalyses returns the last limit conductor analyses,
// newest first — part of the stuck-workflow diagnostic's gathered context
// (spec §4.9: "recent Conductor analyses (≤ M)").
func (s *Store) ListRecentConductorAnalyses(ctx context.Context, limit int) ([]*models.ConductorAnalysis, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tick, coherence_score, alignment_issues, system_summary, created_at
		FROM conductor_analyses ORDER BY tick DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent conductor analyses: %w", err)
	}
	defer rows.Close()

	var out []*models.ConductorAnalysis
	for rows.Next() {
		var c models.ConductorAnalysis
		if err := rows.Scan(&c.ID, &c.Tick, &c.CoherenceScore, &c.AlignmentIssues, &c.SystemSummary, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning conductor analysis row: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// CreateDetectedDuplicate records one Conductor-reported duplicate-work pair
// (spec §4.7), including whether the validator-safety check (invariant 7,
// §8) skipped termination.
func (s *Store) CreateDetectedDuplicate(ctx context.Context, d *models.DetectedDuplicate) error {
	d.CreatedAt = time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO detected_duplicates (id, conductor_analysis_id, agent1_id, agent2_id,
			similarity, work_description, terminated, skipped_reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		d.ID, d.ConductorAnalysisID, d.Agent1ID, d.Agent2ID,
		d.Similarity, d.WorkDescription, d.Terminated, d.SkippedReason, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting detected duplicate: %w", err)
	}
	return nil
}

// CreateDiagnosticRun records when the stuck-workflow detector fired (spec §4.9).
func (s *Store) CreateDiagnosticRun(ctx context.Context, d *models.DiagnosticRun) error {
	if d.TriggeredAt.IsZero() {
		d.TriggeredAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO diagnostic_runs (id, workflow_id, triggered_at, context_snapshot,
			tasks_created, diagnostic_agent_id)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		d.ID, d.WorkflowID, d.TriggeredAt, d.ContextSnapshot,
		d.TasksCreated, d.DiagnosticAgentID)
	if err != nil {
		return fmt.Errorf("inserting diagnostic run: %w", err)
	}
	return nil
}

// LatestDiagnosticRun returns the most recent diagnostic run for a workflow,
// used to enforce the stuck-workflow detector's cooldown between firings.
func (s *Store) LatestDiagnosticRun(ctx context.Context, workflowID string) (*models.DiagnosticRun, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, workflow_id, triggered_at, context_snapshot, tasks_created, diagnostic_agent_id
		FROM diagnostic_runs WHERE workflow_id = $1
		ORDER BY triggered_at DESC LIMIT 1`, workflowID)
	var d models.DiagnosticRun
	if err := row.Scan(&d.ID, &d.WorkflowID, &d.TriggeredAt, &d.ContextSnapshot,
		&d.TasksCreated, &d.DiagnosticAgentID); err != nil {
		return nil, ErrNotFound
	}
	return &d, nil
}

// CreateWorkflowResult stores a submitted markdown result file for the
// workflow-level validation path (spec §4.10 "submit_result").
func (s *Store) CreateWorkflowResult(ctx context.Context, r *models.WorkflowResult) error {
	r.CreatedAt = time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_results (id, workflow_id, agent_id, content, validated, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		r.ID, r.WorkflowID, r.AgentID, r.Content, r.Validated, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting workflow result: %w", err)
	}
	return nil
}

// UpdateWorkflowResultValidated flips the validated flag once the
// workflow-path validator approves a result.
func (s *Store) UpdateWorkflowResultValidated(ctx context.Context, id string, validated bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE workflow_results SET validated = $2 WHERE id = $1`, id, validated)
	if err != nil {
		return fmt.Errorf("updating workflow result %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListWorkflowResults returns all submitted results for a workflow.
func (s *Store) ListWorkflowResults(ctx context.Context, workflowID string) ([]*models.WorkflowResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workflow_id, agent_id, content, validated, created_at
		FROM workflow_results WHERE workflow_id = $1 ORDER BY created_at ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("listing workflow results: %w", err)
	}
	defer rows.Close()

	var out []*models.WorkflowResult
	for rows.Next() {
		var r models.WorkflowResult
		if err := rows.Scan(&r.ID, &r.WorkflowID, &r.AgentID, &r.Content, &r.Validated, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning workflow result row: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
