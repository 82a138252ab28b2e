package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hephaestus-ai/hephaestus/pkg/models"
	"github.com/jackc/pgx/v5"
)

const taskColumns = `id, raw_description, enriched_description, done_criterion,
	estimated_complexity, status, priority, priority_boosted, queue_position,
	queued_at, assigned_agent_id, created_by_agent_id, parent_task_id,
	phase_id, workflow_id, ticket_id, embedding, duplicate_of_task_id,
	similarity_score, validation_enabled, validation_iteration, has_results,
	blocked_reason, failure_reason, enriched_at, created_at, updated_at, deleted_at`

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	var embeddingRaw []byte
	if err := row.Scan(
		&t.ID, &t.RawDescription, &t.EnrichedDescription, &t.DoneCriterion,
		&t.EstimatedComplexity, &t.Status, &t.Priority, &t.PriorityBoosted, &t.QueuePosition,
		&t.QueuedAt, &t.AssignedAgentID, &t.CreatedByAgentID, &t.ParentTaskID,
		&t.PhaseID, &t.WorkflowID, &t.TicketID, &embeddingRaw, &t.DuplicateOfTaskID,
		&t.SimilarityScore, &t.ValidationEnabled, &t.ValidationIteration, &t.HasResults,
		&t.BlockedReason, &t.FailureReason, &t.EnrichedAt, &t.CreatedAt, &t.UpdatedAt, &t.DeletedAt,
	); err != nil {
		return nil, err
	}
	embedding, err := decodeEmbedding(embeddingRaw)
	if err != nil {
		return nil, fmt.Errorf("decoding task embedding: %w", err)
	}
	t.Embedding = embedding
	return &t, nil
}

// CreateTask inserts a new task row. Callers set ID, RawDescription,
// DoneCriterion, Priority, and any linking fields before calling.
func (s *Store) CreateTask(ctx context.Context, t *models.Task) error {
	embeddingRaw, err := encodeEmbedding(t.Embedding)
	if err != nil {
		return fmt.Errorf("encoding task embedding: %w", err)
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks (id, raw_description, enriched_description, done_criterion,
			estimated_complexity, status, priority, priority_boosted, queue_position,
			queued_at, assigned_agent_id, created_by_agent_id, parent_task_id,
			phase_id, workflow_id, ticket_id, embedding, duplicate_of_task_id,
			similarity_score, validation_enabled, validation_iteration, has_results,
			blocked_reason, failure_reason, enriched_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)`,
		t.ID, t.RawDescription, t.EnrichedDescription, t.DoneCriterion,
		t.EstimatedComplexity, t.Status, t.Priority, t.PriorityBoosted, t.QueuePosition,
		t.QueuedAt, t.AssignedAgentID, t.CreatedByAgentID, t.ParentTaskID,
		t.PhaseID, t.WorkflowID, t.TicketID, embeddingRaw, t.DuplicateOfTaskID,
		t.SimilarityScore, t.ValidationEnabled, t.ValidationIteration, t.HasResults,
		t.BlockedReason, t.FailureReason, t.EnrichedAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND deleted_at IS NULL`, id)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting task %s: %w", id, err)
	}
	return t, nil
}

// UpdateTask persists every mutable field of t (full-row update). Callers
// are expected to have fetched the row first via GetTask so stale fields
// aren't clobbered.
func (s *Store) UpdateTask(ctx context.Context, t *models.Task) error {
	embeddingRaw, err := encodeEmbedding(t.Embedding)
	if err != nil {
		return fmt.Errorf("encoding task embedding: %w", err)
	}
	t.UpdatedAt = time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET
			raw_description=$2, enriched_description=$3, done_criterion=$4,
			estimated_complexity=$5, status=$6, priority=$7, priority_boosted=$8,
			queue_position=$9, queued_at=$10, assigned_agent_id=$11,
			created_by_agent_id=$12, parent_task_id=$13, phase_id=$14,
			workflow_id=$15, ticket_id=$16, embedding=$17, duplicate_of_task_id=$18,
			similarity_score=$19, validation_enabled=$20, validation_iteration=$21,
			has_results=$22, blocked_reason=$23, failure_reason=$24, enriched_at=$25, updated_at=$26
		WHERE id=$1 AND deleted_at IS NULL`,
		t.ID, t.RawDescription, t.EnrichedDescription, t.DoneCriterion,
		t.EstimatedComplexity, t.Status, t.Priority, t.PriorityBoosted,
		t.QueuePosition, t.QueuedAt, t.AssignedAgentID,
		t.CreatedByAgentID, t.ParentTaskID, t.PhaseID,
		t.WorkflowID, t.TicketID, embeddingRaw, t.DuplicateOfTaskID,
		t.SimilarityScore, t.ValidationEnabled, t.ValidationIteration,
		t.HasResults, t.BlockedReason, t.FailureReason, t.EnrichedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTasksByStatus returns tasks matching any of statuses, optionally
// scoped to a workflow.
func (s *Store) ListTasksByStatus(ctx context.Context, workflowID *string, statuses []models.TaskStatus) ([]*models.Task, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE deleted_at IS NULL
		AND ($1::text IS NULL OR workflow_id = $1)
		AND status = ANY($2)
		ORDER BY created_at ASC`,
		workflowID, statusStrings(statuses))
	if err != nil {
		return nil, fmt.Errorf("listing tasks by status: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListTasksByPhase returns all non-deleted tasks for a phase, used by
// TaskSimilarityService to scope duplicate comparisons (spec §4.3: "phase
// isolation is mandatory").
func (s *Store) ListTasksByPhase(ctx context.Context, phaseID string) ([]*models.Task, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE phase_id = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC`, phaseID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks by phase: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListQueuedTasksOrdered returns every queued task in strict queue order
// (priority_boosted desc, priority desc, queued_at asc) — spec §4.1.
func (s *Store) ListQueuedTasksOrdered(ctx context.Context) ([]*models.Task, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE status = 'queued' AND deleted_at IS NULL
		ORDER BY priority_boosted DESC,
			CASE priority WHEN 'high' THEN 2 WHEN 'medium' THEN 1 ELSE 0 END DESC,
			queued_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing queued tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// CountActiveAgents lives in agents.go.

// CreateRelatedTask stores a related_tasks row, used by TaskSimilarityService
// for REL ≤ s < DUP hits (spec §4.3), at most 10 per subject task — the
// caller enforces the cap before calling.
func (s *Store) CreateRelatedTask(ctx context.Context, r *models.RelatedTask) error {
	r.CreatedAt = time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO related_tasks (id, task_id, related_task_id, similarity_score, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (task_id, related_task_id) DO UPDATE SET similarity_score = EXCLUDED.similarity_score`,
		r.ID, r.TaskID, r.RelatedTaskID, r.SimilarityScore, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting related task: %w", err)
	}
	return nil
}

// RecomputeQueuePositions assigns a 1-based queue_position to every queued
// task in strict queue order (spec §4.1, §8 invariant 1). Runs inside tx so
// callers can compose it with the mutation that triggered the recompute.
func RecomputeQueuePositions(ctx context.Context, tx pgx.Tx) error {
	rows, err := tx.Query(ctx, `SELECT id FROM tasks
		WHERE status = 'queued' AND deleted_at IS NULL
		ORDER BY priority_boosted DESC,
			CASE priority WHEN 'high' THEN 2 WHEN 'medium' THEN 1 ELSE 0 END DESC,
			queued_at ASC
		FOR UPDATE`)
	if err != nil {
		return fmt.Errorf("selecting queued tasks for recompute: %w", err)
	}
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scanning queued task id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating queued tasks: %w", err)
	}

	for i, id := range ids {
		position := i + 1
		if _, err := tx.Exec(ctx, `UPDATE tasks SET queue_position = $2, updated_at = now() WHERE id = $1`, id, position); err != nil {
			return fmt.Errorf("recomputing position for task %s: %w", id, err)
		}
	}
	return nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic — the teacher's scoped-acquisition helper (§9)
// replacing ad-hoc try/finally.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// SoftDeleteOldTerminalTasks sets deleted_at on every terminal task
// (done, failed, duplicated) whose updated_at is older than olderThan,
// and reports how many rows were touched. Used by the retention worker
// (SPEC_FULL §C.6).
func (s *Store) SoftDeleteOldTerminalTasks(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET deleted_at = now()
		WHERE deleted_at IS NULL
		AND status = ANY($1)
		AND updated_at < $2`,
		statusStrings([]models.TaskStatus{
			models.TaskStatusDone,
			models.TaskStatusFailed,
			models.TaskStatusDuplicated,
		}), olderThan)
	if err != nil {
		return 0, fmt.Errorf("soft-deleting old terminal tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func collectTasks(rows pgx.Rows) ([]*models.Task, error) {
	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating task rows: %w", err)
	}
	return out, nil
}

func statusStrings(statuses []models.TaskStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}
