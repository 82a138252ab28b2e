package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hephaestus-ai/hephaestus/pkg/models"
	"github.com/jackc/pgx/v5"
)

const worktreeColumns = `id, agent_id, branch, path, parent_agent_id,
	parent_commit_sha, base_commit_sha, merge_status, merge_commit_sha,
	created_at, updated_at`

func scanWorktree(row pgx.Row) (*models.Worktree, error) {
	var w models.Worktree
	if err := row.Scan(
		&w.ID, &w.AgentID, &w.Branch, &w.Path, &w.ParentAgentID,
		&w.ParentCommitSHA, &w.BaseCommitSHA, &w.MergeStatus, &w.MergeCommitSHA,
		&w.CreatedAt, &w.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &w, nil
}

// CreateWorktree inserts a new worktree row.
func (s *Store) CreateWorktree(ctx context.Context, w *models.Worktree) error {
	now := time.Now()
	w.CreatedAt, w.UpdatedAt = now, now
	_, err := s.pool.Exec(ctx, `
		INSERT INTO worktrees (id, agent_id, branch, path, parent_agent_id,
			parent_commit_sha, base_commit_sha, merge_status, merge_commit_sha,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		w.ID, w.AgentID, w.Branch, w.Path, w.ParentAgentID,
		w.ParentCommitSHA, w.BaseCommitSHA, w.MergeStatus, w.MergeCommitSHA,
		w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting worktree: %w", err)
	}
	return nil
}

// GetWorktreeByAgent fetches the (at most one) worktree owned by an agent.
func (s *Store) GetWorktreeByAgent(ctx context.Context, agentID string) (*models.Worktree, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+worktreeColumns+` FROM worktrees WHERE agent_id = $1`, agentID)
	w, err := scanWorktree(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting worktree for agent %s: %w", agentID, err)
	}
	return w, nil
}

// UpdateWorktree persists every mutable field of w.
func (s *Store) UpdateWorktree(ctx context.Context, w *models.Worktree) error {
	w.UpdatedAt = time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE worktrees SET merge_status=$2, merge_commit_sha=$3, updated_at=$4
		WHERE id=$1`,
		w.ID, w.MergeStatus, w.MergeCommitSHA, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating worktree %s: %w", w.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListWorktreesByStatus returns worktrees in a given merge status, used by
// the retention/cleanup worker to find "cleaned" trees past the on-disk
// removal delay (SPEC_FULL §C.6).
func (s *Store) ListWorktreesByStatus(ctx context.Context, status models.WorktreeMergeStatus, olderThan time.Time) ([]*models.Worktree, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+worktreeColumns+` FROM worktrees
		WHERE merge_status = $1 AND updated_at < $2`, status, olderThan)
	if err != nil {
		return nil, fmt.Errorf("listing worktrees by status: %w", err)
	}
	defer rows.Close()

	var out []*models.Worktree
	for rows.Next() {
		w, err := scanWorktree(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning worktree row: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// RecordMergeConflictResolution appends one audited per-file resolution
// made by WorktreeManager.merge_to_parent's timestamp rule (spec §4.4).
func (s *Store) RecordMergeConflictResolution(ctx context.Context, r *models.MergeConflictResolution) error {
	r.CreatedAt = time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO merge_conflict_resolutions (id, worktree_id, file_path,
			chosen_side, child_mod_time, parent_mod_time, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.ID, r.WorktreeID, r.FilePath, r.ChosenSide,
		r.ChildModTime, r.ParentModTime, r.Reason, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording merge conflict resolution: %w", err)
	}
	return nil
}
