package models

import "time"

// WorktreeMergeStatus is the closed set of lifecycle states for a Worktree.
// Abandoning or merging is terminal (invariant, §3).
type WorktreeMergeStatus string

const (
	WorktreeMergeStatusActive    WorktreeMergeStatus = "active"
	WorktreeMergeStatusMerged    WorktreeMergeStatus = "merged"
	WorktreeMergeStatusAbandoned WorktreeMergeStatus = "abandoned"
	WorktreeMergeStatusCleaned   WorktreeMergeStatus = "cleaned"
)

// IsTerminal reports whether further merge/abandon transitions are refused.
func (s WorktreeMergeStatus) IsTerminal() bool {
	return s == WorktreeMergeStatusMerged || s == WorktreeMergeStatusAbandoned || s == WorktreeMergeStatusCleaned
}

// Worktree is an isolated on-disk checkout of the main repository on a
// private branch, owned by exactly one Agent for the duration of its life.
type Worktree struct {
	ID      string
	AgentID string

	Branch string
	Path   string

	// ParentAgentID is set when this worktree was forked from another
	// agent's branch head rather than the default branch (nested worktrees,
	// §4.4).
	ParentAgentID *string

	ParentCommitSHA string
	BaseCommitSHA   string

	MergeStatus    WorktreeMergeStatus
	MergeCommitSHA *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MergeConflictResolution is one audited per-file resolution decision made
// by WorktreeManager.merge_to_parent's timestamp rule (§4.4).
type MergeConflictResolution struct {
	ID             string
	WorktreeID     string
	FilePath       string
	ChosenSide     string // "child" or "parent"
	ChildModTime   time.Time
	ParentModTime  time.Time
	Reason         string
	CreatedAt      time.Time
}
