// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/hephaestus-ai/hephaestus/pkg/config"
	"github.com/hephaestus-ai/hephaestus/pkg/models"
)

// Store is the subset of pkg/store.Store the retention worker needs.
type Store interface {
	SoftDeleteOldTerminalTasks(ctx context.Context, olderThan time.Time) (int, error)
	DeleteOldTerminatedAgentLogs(ctx context.Context, olderThan time.Time) (int, error)
	ListWorktreesByStatus(ctx context.Context, status models.WorktreeMergeStatus, olderThan time.Time) ([]*models.Worktree, error)
	UpdateWorktree(ctx context.Context, w *models.Worktree) error
}

// WorktreeRemover deletes a worktree's on-disk checkout, satisfied by
// pkg/worktree.Manager.
type WorktreeRemover interface {
	Remove(w *models.Worktree) error
}

// Service periodically enforces retention policies (SPEC_FULL §C.6):
//   - Soft-deletes terminal tasks (done, failed, duplicated) past
//     TaskRetentionDays
//   - Deletes AgentLog rows for terminated agents past AgentLogTTL
//   - Removes the on-disk checkout of merged/abandoned worktrees past
//     WorktreeCleanupDelay and marks them cleaned
//
// All operations are idempotent and safe to run from multiple replicas.
type Service struct {
	config   *config.RetentionConfig
	store    Store
	worktree WorktreeRemover

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, st Store, worktree WorktreeRemover) *Service {
	if cfg == nil {
		cfg = config.DefaultRetentionConfig()
	}
	return &Service{config: cfg, store: st, worktree: worktree}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"task_retention_days", s.config.TaskRetentionDays,
		"agent_log_ttl", s.config.AgentLogTTL,
		"worktree_cleanup_delay", s.config.WorktreeCleanupDelay,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.softDeleteOldTasks(ctx)
	s.deleteOldAgentLogs(ctx)
	s.cleanupWorktrees(ctx)
}

func (s *Service) softDeleteOldTasks(ctx context.Context) {
	cutoff := time.Now().Add(-time.Duration(s.config.TaskRetentionDays) * 24 * time.Hour)
	count, err := s.store.SoftDeleteOldTerminalTasks(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: soft-delete tasks failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: soft-deleted old terminal tasks", "count", count)
	}
}

func (s *Service) deleteOldAgentLogs(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.AgentLogTTL)
	count, err := s.store.DeleteOldTerminatedAgentLogs(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: agent log cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted old agent logs", "count", count)
	}
}

// worktreeCleanupStatuses is the set of merge outcomes whose on-disk
// checkout is eligible for removal once WorktreeCleanupDelay has elapsed.
var worktreeCleanupStatuses = []models.WorktreeMergeStatus{
	models.WorktreeMergeStatusMerged,
	models.WorktreeMergeStatusAbandoned,
}

func (s *Service) cleanupWorktrees(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.WorktreeCleanupDelay)
	for _, status := range worktreeCleanupStatuses {
		worktrees, err := s.store.ListWorktreesByStatus(ctx, status, cutoff)
		if err != nil {
			slog.Error("Retention: listing worktrees failed", "status", status, "error", err)
			continue
		}
		for _, w := range worktrees {
			if err := s.worktree.Remove(w); err != nil {
				slog.Error("Retention: removing worktree checkout failed", "worktree_id", w.ID, "error", err)
				continue
			}
			w.MergeStatus = models.WorktreeMergeStatusCleaned
			if err := s.store.UpdateWorktree(ctx, w); err != nil {
				slog.Error("Retention: marking worktree cleaned failed", "worktree_id", w.ID, "error", err)
			}
		}
	}
}
