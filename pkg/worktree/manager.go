// Package worktree implements WorktreeManager (spec §4.4): each agent works
// inside a fresh, isolated checkout of the main repository on a private
// branch, forked either from the default branch or from another agent's
// branch head (nested worktrees). Merge-back uses a simplified three-way
// policy: per conflicting file, the newer modification wins, ties favor the
// child — go-git does not ship a full recursive-merge implementation, so
// file-level timestamp comparison stands in for it (documented in
// DESIGN.md).
package worktree

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/uuid"

	"github.com/hephaestus-ai/hephaestus/pkg/models"
)

// Store is the subset of pkg/store.Store the manager needs, kept narrow so
// tests can fake it without a database.
type Store interface {
	CreateWorktree(ctx context.Context, w *models.Worktree) error
	GetWorktreeByAgent(ctx context.Context, agentID string) (*models.Worktree, error)
	UpdateWorktree(ctx context.Context, w *models.Worktree) error
	RecordMergeConflictResolution(ctx context.Context, r *models.MergeConflictResolution) error
}

// Manager implements WorktreeManager.
type Manager struct {
	mainRepoPath  string
	worktreesRoot string
	store         Store
	authorName    string
	authorEmail   string
}

// NewManager builds a Manager rooted at mainRepoPath, materializing agent
// worktrees under worktreesRoot.
func NewManager(mainRepoPath, worktreesRoot string, st Store) *Manager {
	return &Manager{
		mainRepoPath:  mainRepoPath,
		worktreesRoot: worktreesRoot,
		store:         st,
		authorName:    "hephaestus",
		authorEmail:   "hephaestus@localhost",
	}
}

// Create forks a fresh worktree for agent. When parentWorktree is non-nil,
// the new branch forks from the parent agent's current branch head instead
// of the default branch (spec §4.4, nested worktrees).
func (m *Manager) Create(ctx context.Context, agent *models.Agent, parentWorktree *models.Worktree) (*models.Worktree, error) {
	basePath := m.mainRepoPath
	if parentWorktree != nil {
		basePath = parentWorktree.Path
	}

	baseRepo, err := git.PlainOpen(basePath)
	if err != nil {
		return nil, fmt.Errorf("opening base repo at %s: %w", basePath, err)
	}
	head, err := baseRepo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolving head of %s: %w", basePath, err)
	}
	parentCommitSHA := head.Hash().String()

	baseCommitSHA := parentCommitSHA
	if parentWorktree != nil {
		baseCommitSHA = parentWorktree.BaseCommitSHA
	}

	branch := fmt.Sprintf("hephaestus/agent-%s", agent.ID)
	destPath := filepath.Join(m.worktreesRoot, agent.ID)

	clonedRepo, err := git.PlainCloneContext(ctx, destPath, false, &git.CloneOptions{
		URL: basePath,
	})
	if err != nil {
		return nil, fmt.Errorf("cloning %s into %s: %w", basePath, destPath, err)
	}

	ref := plumbing.NewBranchReferenceName(branch)
	wt, err := clonedRepo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("opening worktree at %s: %w", destPath, err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{
		Hash:   head.Hash(),
		Branch: ref,
		Create: true,
	}); err != nil {
		return nil, fmt.Errorf("creating branch %s at %s: %w", branch, destPath, err)
	}

	w := &models.Worktree{
		ID:              uuid.NewString(),
		AgentID:         agent.ID,
		Branch:          branch,
		Path:            destPath,
		ParentCommitSHA: parentCommitSHA,
		BaseCommitSHA:   baseCommitSHA,
		MergeStatus:     models.WorktreeMergeStatusActive,
	}
	if parentWorktree != nil {
		w.ParentAgentID = &parentWorktree.AgentID
	}
	if err := m.store.CreateWorktree(ctx, w); err != nil {
		return nil, fmt.Errorf("persisting worktree: %w", err)
	}
	return w, nil
}

// CommitForValidation stages all changes and commits them with a stable
// message naming the validation iteration (spec §4.4).
func (m *Manager) CommitForValidation(ctx context.Context, w *models.Worktree, iteration int) (string, error) {
	repo, err := git.PlainOpen(w.Path)
	if err != nil {
		return "", fmt.Errorf("opening worktree %s: %w", w.Path, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("opening work tree handle for %s: %w", w.Path, err)
	}
	if _, err := wt.Add("."); err != nil {
		return "", fmt.Errorf("staging changes in %s: %w", w.Path, err)
	}

	sig := &object.Signature{Name: m.authorName, Email: m.authorEmail, When: time.Now()}
	commit, err := wt.Commit(fmt.Sprintf("validation iteration %d", iteration), &git.CommitOptions{
		All:       true,
		Author:    sig,
		Committer: sig,
		AllowEmptyCommits: true,
	})
	if err != nil {
		return "", fmt.Errorf("committing in %s: %w", w.Path, err)
	}
	return commit.String(), nil
}

// MergeToParent merges w's branch into its parent (the main repo, or the
// parent agent's worktree for nested trees). Conflicting files are resolved
// by comparing last-modified timestamps: the newer file wins, ties favor the
// child. Every resolution is recorded via RecordMergeConflictResolution.
// Idempotent: if the child is already reachable from parent, returns the
// parent's current head with no changes.
func (m *Manager) MergeToParent(ctx context.Context, w *models.Worktree, parentPath string) (string, error) {
	parentRepo, err := git.PlainOpen(parentPath)
	if err != nil {
		return "", fmt.Errorf("opening parent repo %s: %w", parentPath, err)
	}
	parentHead, err := parentRepo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving parent head: %w", err)
	}

	childRepo, err := git.PlainOpen(w.Path)
	if err != nil {
		return "", fmt.Errorf("opening child repo %s: %w", w.Path, err)
	}
	childHead, err := childRepo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving child head: %w", err)
	}

	if ancestor, err := parentRepo.Log(&git.LogOptions{From: parentHead.Hash()}); err == nil {
		reachable := false
		_ = ancestor.ForEach(func(c *object.Commit) error {
			if c.Hash == childHead.Hash() {
				reachable = true
			}
			return nil
		})
		if reachable {
			return parentHead.Hash().String(), nil
		}
	}

	resolved, err := m.resolveConflicts(ctx, w, parentPath)
	if err != nil {
		return "", fmt.Errorf("resolving conflicts for %s: %w", w.Path, err)
	}
	for _, r := range resolved {
		if err := m.store.RecordMergeConflictResolution(ctx, r); err != nil {
			return "", fmt.Errorf("recording merge conflict resolution: %w", err)
		}
	}

	parentWT, err := parentRepo.Worktree()
	if err != nil {
		return "", fmt.Errorf("opening parent work tree handle: %w", err)
	}
	if _, err := parentWT.Add("."); err != nil {
		return "", fmt.Errorf("staging merged changes: %w", err)
	}
	sig := &object.Signature{Name: m.authorName, Email: m.authorEmail, When: time.Now()}
	commit, err := parentWT.Commit(fmt.Sprintf("merge agent %s branch %s", w.AgentID, w.Branch), &git.CommitOptions{
		Author:            sig,
		Committer:         sig,
		AllowEmptyCommits: true,
	})
	if err != nil {
		return "", fmt.Errorf("committing merge: %w", err)
	}
	return commit.String(), nil
}

// resolveConflicts walks the child worktree's files, copying each into the
// parent path and recording a resolution decision for any file that exists
// (and differs) in both trees.
func (m *Manager) resolveConflicts(ctx context.Context, w *models.Worktree, parentPath string) ([]*models.MergeConflictResolution, error) {
	var resolutions []*models.MergeConflictResolution

	err := filepath.WalkDir(w.Path, func(childFile string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(w.Path, childFile)
		if err != nil {
			return err
		}
		parentFile := filepath.Join(parentPath, rel)

		parentInfo, statErr := os.Stat(parentFile)
		if statErr != nil {
			// File only exists on the child side: no conflict, just copy.
			return copyFile(childFile, parentFile)
		}

		childData, err := os.ReadFile(childFile)
		if err != nil {
			return err
		}
		parentData, err := os.ReadFile(parentFile)
		if err != nil {
			return err
		}
		if string(childData) == string(parentData) {
			// Identical on both sides: nothing to resolve.
			return nil
		}

		childInfo, err := d.Info()
		if err != nil {
			return err
		}

		chosenSide := "child"
		reason := "child-only file"
		if parentInfo.ModTime().After(childInfo.ModTime()) {
			chosenSide = "parent"
			reason = "parent modified more recently"
		} else {
			reason = "child modified more recently or tied"
		}

		resolutions = append(resolutions, &models.MergeConflictResolution{
			ID:            uuid.NewString(),
			WorktreeID:    w.ID,
			FilePath:      rel,
			ChosenSide:    chosenSide,
			ChildModTime:  childInfo.ModTime(),
			ParentModTime: parentInfo.ModTime(),
			Reason:        reason,
		})

		if chosenSide == "child" {
			return copyFile(childFile, parentFile)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolutions, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", dst, err)
	}
	return os.WriteFile(dst, data, 0o644)
}

// Abandon marks w as abandoned. The worktree directory itself is removed
// later by the retention worker (spec SPEC_FULL §C.6), not synchronously
// here.
func (m *Manager) Abandon(ctx context.Context, w *models.Worktree) error {
	if w.MergeStatus.IsTerminal() {
		return fmt.Errorf("worktree %s: merge status %s is already terminal", w.ID, w.MergeStatus)
	}
	w.MergeStatus = models.WorktreeMergeStatusAbandoned
	return m.store.UpdateWorktree(ctx, w)
}

// Remove deletes a worktree's on-disk checkout. Called by the retention
// worker once a worktree has sat merged/abandoned past the configured delay.
func (m *Manager) Remove(w *models.Worktree) error {
	return os.RemoveAll(w.Path)
}
