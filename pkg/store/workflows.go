package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hephaestus-ai/hephaestus/pkg/models"
	"github.com/jackc/pgx/v5"
)

const workflowColumns = `id, name, goal, status, created_at, updated_at`

func scanWorkflow(row pgx.Row) (*models.Workflow, error) {
	var w models.Workflow
	if err := row.Scan(&w.ID, &w.Name, &w.Goal, &w.Status, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

// CreateWorkflow inserts a new workflow row.
func (s *Store) CreateWorkflow(ctx context.Context, w *models.Workflow) error {
	now := time.Now()
	w.CreatedAt, w.UpdatedAt = now, now
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflows (id, name, goal, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		w.ID, w.Name, w.Goal, w.Status, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting workflow: %w", err)
	}
	return nil
}

// GetWorkflow fetches a workflow by id.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)
	w, err := scanWorkflow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting workflow %s: %w", id, err)
	}
	return w, nil
}

// UpdateWorkflow persists every mutable field of w.
func (s *Store) UpdateWorkflow(ctx context.Context, w *models.Workflow) error {
	w.UpdatedAt = time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflows SET name=$2, goal=$3, status=$4, updated_at=$5
		WHERE id=$1`,
		w.ID, w.Name, w.Goal, w.Status, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating workflow %s: %w", w.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ErrNoActiveWorkflow and ErrMultipleActiveWorkflows resolve Open Question
// #3: ActiveWorkflow reports ambiguity explicitly rather than returning a
// silent nil or an arbitrary row.
var (
	ErrNoActiveWorkflow        = errors.New("store: no active workflow")
	ErrMultipleActiveWorkflows = errors.New("store: multiple active workflows")
)

// ActiveWorkflow returns the single workflow with status = 'active'. It
// returns ErrNoActiveWorkflow or ErrMultipleActiveWorkflows when that
// invariant (at most one active workflow) does not hold.
func (s *Store) ActiveWorkflow(ctx context.Context) (*models.Workflow, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("querying active workflow: %w", err)
	}
	defer rows.Close()

	var found []*models.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning workflow row: %w", err)
		}
		found = append(found, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating active workflows: %w", err)
	}

	switch len(found) {
	case 0:
		return nil, ErrNoActiveWorkflow
	case 1:
		return found[0], nil
	default:
		return nil, ErrMultipleActiveWorkflows
	}
}

const phaseColumns = `id, workflow_id, "order", description, done_definitions,
	validation_policy, default_working_dir, status, completed_at, created_at, updated_at`

func scanPhase(row pgx.Row) (*models.Phase, error) {
	var p models.Phase
	if err := row.Scan(
		&p.ID, &p.WorkflowID, &p.Order, &p.Description, &p.DoneDefinitions,
		&p.ValidationPolicy, &p.DefaultWorkingDir, &p.Status, &p.CompletedAt,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePhase inserts a new phase row.
func (s *Store) CreatePhase(ctx context.Context, p *models.Phase) error {
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := s.pool.Exec(ctx, `
		INSERT INTO phases (id, workflow_id, "order", description, done_definitions,
			validation_policy, default_working_dir, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.WorkflowID, p.Order, p.Description, p.DoneDefinitions,
		p.ValidationPolicy, p.DefaultWorkingDir, p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting phase: %w", err)
	}
	return nil
}

// GetPhase fetches a phase by id.
func (s *Store) GetPhase(ctx context.Context, id string) (*models.Phase, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+phaseColumns+` FROM phases WHERE id = $1`, id)
	p, err := scanPhase(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting phase %s: %w", id, err)
	}
	return p, nil
}

// UpdatePhase persists every mutable field of p.
func (s *Store) UpdatePhase(ctx context.Context, p *models.Phase) error {
	p.UpdatedAt = time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE phases SET status=$2, updated_at=$3, completed_at=$4
		WHERE id=$1`,
		p.ID, p.Status, p.UpdatedAt, p.CompletedAt)
	if err != nil {
		return fmt.Errorf("updating phase %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPhasesByWorkflow returns all phases for a workflow ordered by "order",
// the phase-progression service's iteration order (spec §4.9).
func (s *Store) ListPhasesByWorkflow(ctx context.Context, workflowID string) ([]*models.Phase, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+phaseColumns+` FROM phases
		WHERE workflow_id = $1 ORDER BY "order" ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("listing phases: %w", err)
	}
	defer rows.Close()

	var out []*models.Phase
	for rows.Next() {
		p, err := scanPhase(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning phase row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const boardConfigColumns = `workflow_id, columns, allowed_ticket_types, initial_status, policy_toggles`

func scanBoardConfig(row pgx.Row) (*models.BoardConfig, error) {
	var b models.BoardConfig
	if err := row.Scan(&b.WorkflowID, &b.Columns, &b.AllowedTicketTypes, &b.InitialStatus, &b.PolicyToggles); err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBoardConfig inserts the board configuration for a workflow. There is
// at most one per workflow (workflow_id is the primary key).
func (s *Store) CreateBoardConfig(ctx context.Context, b *models.BoardConfig) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO board_configs (workflow_id, columns, allowed_ticket_types, initial_status, policy_toggles)
		VALUES ($1,$2,$3,$4,$5)`,
		b.WorkflowID, b.Columns, b.AllowedTicketTypes, b.InitialStatus, b.PolicyToggles)
	if err != nil {
		return fmt.Errorf("inserting board config: %w", err)
	}
	return nil
}

// GetBoardConfig fetches a board configuration by workflow id.
func (s *Store) GetBoardConfig(ctx context.Context, workflowID string) (*models.BoardConfig, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+boardConfigColumns+` FROM board_configs WHERE workflow_id = $1`, workflowID)
	b, err := scanBoardConfig(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting board config for workflow %s: %w", workflowID, err)
	}
	return b, nil
}
