package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hephaestus-ai/hephaestus/pkg/models"
	"github.com/jackc/pgx/v5"
)

const agentColumns = `id, status, agent_type, session_name, current_task_id,
	last_activity, health_check_failures, kept_alive_for_validation,
	workflow_id, created_at, updated_at, terminated_at, deleted_at`

func scanAgent(row pgx.Row) (*models.Agent, error) {
	var a models.Agent
	if err := row.Scan(
		&a.ID, &a.Status, &a.AgentType, &a.SessionName, &a.CurrentTaskID,
		&a.LastActivity, &a.HealthCheckFailures, &a.KeptAliveForValidation,
		&a.WorkflowID, &a.CreatedAt, &a.UpdatedAt, &a.TerminatedAt, &a.DeletedAt,
	); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAgent inserts a new agent row.
func (s *Store) CreateAgent(ctx context.Context, a *models.Agent) error {
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	if a.LastActivity.IsZero() {
		a.LastActivity = now
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agents (id, status, agent_type, session_name, current_task_id,
			last_activity, health_check_failures, kept_alive_for_validation,
			workflow_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		a.ID, a.Status, a.AgentType, a.SessionName, a.CurrentTaskID,
		a.LastActivity, a.HealthCheckFailures, a.KeptAliveForValidation,
		a.WorkflowID, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting agent: %w", err)
	}
	return nil
}

// GetAgent fetches an agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1 AND deleted_at IS NULL`, id)
	a, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting agent %s: %w", id, err)
	}
	return a, nil
}

// UpdateAgent persists every mutable field of a.
func (s *Store) UpdateAgent(ctx context.Context, a *models.Agent) error {
	a.UpdatedAt = time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents SET status=$2, agent_type=$3, session_name=$4,
			current_task_id=$5, last_activity=$6, health_check_failures=$7,
			kept_alive_for_validation=$8, workflow_id=$9, updated_at=$10,
			terminated_at=$11
		WHERE id=$1 AND deleted_at IS NULL`,
		a.ID, a.Status, a.AgentType, a.SessionName,
		a.CurrentTaskID, a.LastActivity, a.HealthCheckFailures,
		a.KeptAliveForValidation, a.WorkflowID, a.UpdatedAt, a.TerminatedAt)
	if err != nil {
		return fmt.Errorf("updating agent %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountActiveAgents returns the count of agents with status != terminated,
// the admission-control denominator for QueueService.admit() (spec §4.1).
func (s *Store) CountActiveAgents(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM agents WHERE status != 'terminated' AND deleted_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting active agents: %w", err)
	}
	return count, nil
}

// ListActiveAgents returns every agent with status != terminated, the
// MonitorLoop's per-tick fan-out input (spec §4.8 step 1).
func (s *Store) ListActiveAgents(ctx context.Context) ([]*models.Agent, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+agentColumns+` FROM agents
		WHERE status != 'terminated' AND deleted_at IS NULL
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing active agents: %w", err)
	}
	defer rows.Close()
	return collectAgents(rows)
}

// ListAgentsByWorkflow returns up to limit non-deleted agents belonging to
// a workflow, most recently terminated first, used by the stuck-workflow
// diagnostic (spec §4.9).
func (s *Store) ListAgentsByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.Agent, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+agentColumns+` FROM agents
		WHERE workflow_id = $1 AND deleted_at IS NULL
		ORDER BY terminated_at DESC NULLS LAST, created_at DESC
		LIMIT $2`, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing agents by workflow: %w", err)
	}
	defer rows.Close()
	return collectAgents(rows)
}

func collectAgents(rows pgx.Rows) ([]*models.Agent, error) {
	var out []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent rows: %w", err)
	}
	return out, nil
}

// AppendAgentLog inserts an append-only AgentLog row.
func (s *Store) AppendAgentLog(ctx context.Context, l *models.AgentLog) error {
	l.Timestamp = time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_logs (id, agent_id, type, content, final_output,
			output_lines, captured_at, discarded, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		l.ID, l.AgentID, l.Type, l.Content, l.FinalOutput,
		l.OutputLines, l.CapturedAt, l.Discarded, l.Timestamp)
	if err != nil {
		return fmt.Errorf("appending agent log: %w", err)
	}
	return nil
}

// ListAgentLogsByTypes returns every AgentLog for an agent whose type is in
// types, ordered by arrival (spec §5: "for a single agent, AgentLog rows
// are strictly ordered by arrival"). Used by Guardian's accumulated-context
// builder (§4.6 step 3).
func (s *Store) ListAgentLogsByTypes(ctx context.Context, agentID string, types []models.AgentLogType) ([]*models.AgentLog, error) {
	typeStrs := make([]string, len(types))
	for i, t := range types {
		typeStrs[i] = string(t)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, agent_id, type, content, final_output, output_lines,
			captured_at, discarded, timestamp
		FROM agent_logs WHERE agent_id = $1 AND type = ANY($2)
		ORDER BY timestamp ASC`, agentID, typeStrs)
	if err != nil {
		return nil, fmt.Errorf("listing agent logs: %w", err)
	}
	defer rows.Close()

	var out []*models.AgentLog
	for rows.Next() {
		var l models.AgentLog
		if err := rows.Scan(&l.ID, &l.AgentID, &l.Type, &l.Content, &l.FinalOutput,
			&l.OutputLines, &l.CapturedAt, &l.Discarded, &l.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning agent log row: %w", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// DeleteOldTerminatedAgentLogs removes AgentLog rows belonging to
// terminated agents whose timestamp is older than olderThan. Logs for
// still-active agents are never touched regardless of age (SPEC_FULL
// §C.6). Reports the number of rows removed.
func (s *Store) DeleteOldTerminatedAgentLogs(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM agent_logs
		WHERE timestamp < $1
		AND agent_id IN (SELECT id FROM agents WHERE status = 'terminated')`,
		olderThan)
	if err != nil {
		return 0, fmt.Errorf("deleting old terminated agent logs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// TerminatedLogCount returns how many "terminated" AgentLog rows exist for
// an agent. Used by tests asserting invariant 5 (§8): exactly one per
// terminated agent.
func (s *Store) TerminatedLogCount(ctx context.Context, agentID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM agent_logs WHERE agent_id = $1 AND type = 'terminated'`, agentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting terminated logs: %w", err)
	}
	return count, nil
}
