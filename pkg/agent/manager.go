// Package agent implements AgentManager (spec §4.5): it owns the mapping
// from a Task to a running CLI process, going through the SessionHost
// capability for everything terminal-shaped and pkg/worktree for everything
// filesystem-shaped. Restart-on-missing-session is handled by the monitor
// loop, not here — AgentManager only detects and reports the symptom.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hephaestus-ai/hephaestus/pkg/models"
)

// SecretRedactor scrubs secret-shaped substrings from captured terminal
// output before it is persisted or handed to Guardian/Conductor prompts,
// satisfied by pkg/redact.Redactor (SPEC_FULL §C.7).
type SecretRedactor interface {
	Redact(data string) string
}

// SessionHost is the capability interface for terminal-multiplexer
// internals (spec §6): a named session running a CLI process whose output
// can be captured and whose input is delivered as keystrokes.
type SessionHost interface {
	Create(ctx context.Context, name, workingDir string) error
	Has(name string) bool
	Send(ctx context.Context, name, text string) error
	Capture(name string, n int) (string, error)
	Kill(name string) error
}

// WorktreeAllocator is the subset of pkg/worktree.Manager AgentManager needs
// to materialize a fresh checkout for a spawning agent.
type WorktreeAllocator interface {
	Create(ctx context.Context, agent *models.Agent, parentWorktree *models.Worktree) (*models.Worktree, error)
}

// Store is the subset of pkg/store.Store AgentManager needs.
type Store interface {
	CreateAgent(ctx context.Context, a *models.Agent) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	UpdateAgent(ctx context.Context, a *models.Agent) error
	AppendAgentLog(ctx context.Context, l *models.AgentLog) error
	ListAgentLogsByTypes(ctx context.Context, agentID string, types []models.AgentLogType) ([]*models.AgentLog, error)
	GetWorktreeByAgent(ctx context.Context, agentID string) (*models.Worktree, error)
}

// Manager implements AgentManager.
type Manager struct {
	host      SessionHost
	worktrees WorktreeAllocator
	store     Store
	redactor  SecretRedactor

	// captureLines is how many trailing lines output() reads for a live
	// session (spec §4.5).
	captureLines int
	// terminateCaptureLines is how many trailing lines terminate()
	// persists into the final AgentLog (spec §4.5: "~10,000").
	terminateCaptureLines int
	// antiSpamCheckLines is how many trailing lines send() inspects for
	// the "queued messages" marker before delivering (spec §4.5: "~50").
	antiSpamCheckLines int
}

// NewManager builds a Manager with the spec's default capture windows.
// redactor may be nil, in which case captured output is persisted
// unredacted (e.g. in tests).
func NewManager(host SessionHost, worktrees WorktreeAllocator, st Store, redactor SecretRedactor) *Manager {
	return &Manager{
		host:                  host,
		worktrees:             worktrees,
		store:                 st,
		redactor:              redactor,
		captureLines:          500,
		terminateCaptureLines: 10_000,
		antiSpamCheckLines:    50,
	}
}

func (m *Manager) redact(s string) string {
	if m.redactor == nil {
		return s
	}
	return m.redactor.Redact(s)
}

// queuedMessagesMarker is the substring AgentManager.send checks the recent
// session output for: its presence means the CLI already holds an unread
// message and a second send would be spam (spec §4.5).
const queuedMessagesMarker = "queued messages"

// SpawnParams carries everything spawn() needs to compose the initial
// prompt and register the new agent (spec §4.5).
type SpawnParams struct {
	Task            *models.Task
	Enriched        string
	Memories        []string
	ProjectContext  string
	WorkingDir      string
	AgentType       models.AgentType
	WorkflowID      *string
	ParentAgent     *models.Agent
	ParentWorktree  *models.Worktree
	UseExistingWorktree bool
	ExistingWorktreeDir string
}

// Spawn allocates a worktree (unless reusing one), composes the initial
// system prompt, creates the session, sends the prompt, and persists the
// new Agent linked to its task.
func (m *Manager) Spawn(ctx context.Context, p SpawnParams) (*models.Agent, error) {
	a := &models.Agent{
		ID:          uuid.NewString(),
		Status:      models.AgentStatusWorking,
		AgentType:   p.AgentType,
		SessionName: fmt.Sprintf("hephaestus-%s", uuid.NewString()),
		WorkflowID:  p.WorkflowID,
	}
	if p.Task != nil {
		a.CurrentTaskID = &p.Task.ID
	}

	workingDir := p.WorkingDir
	if !p.UseExistingWorktree {
		wt, err := m.worktrees.Create(ctx, a, p.ParentWorktree)
		if err != nil {
			return nil, fmt.Errorf("allocating worktree for agent %s: %w", a.ID, err)
		}
		workingDir = wt.Path
	} else if p.ExistingWorktreeDir != "" {
		workingDir = p.ExistingWorktreeDir
	}

	if err := m.host.Create(ctx, a.SessionName, workingDir); err != nil {
		return nil, fmt.Errorf("creating session for agent %s: %w", a.ID, err)
	}

	prompt := composePrompt(p)
	if err := m.host.Send(ctx, a.SessionName, prompt); err != nil {
		return nil, fmt.Errorf("sending initial prompt to agent %s: %w", a.ID, err)
	}

	// The agent row must exist before any agent_logs row referencing it:
	// agent_logs.agent_id is a non-deferred NOT NULL foreign key, and
	// CreateAgent/AppendAgentLog are separate statements, not one tx.
	if err := m.store.CreateAgent(ctx, a); err != nil {
		return nil, fmt.Errorf("persisting agent %s: %w", a.ID, err)
	}
	if err := m.store.AppendAgentLog(ctx, &models.AgentLog{
		ID: uuid.NewString(), AgentID: a.ID, Type: models.AgentLogTypeInput, Content: prompt,
	}); err != nil {
		return nil, fmt.Errorf("logging initial prompt for agent %s: %w", a.ID, err)
	}
	return a, nil
}

func composePrompt(p SpawnParams) string {
	var sb strings.Builder
	if p.Task != nil {
		fmt.Fprintf(&sb, "Task: %s\n", p.Enriched)
		if p.Task.DoneCriterion != "" {
			fmt.Fprintf(&sb, "Done when: %s\n", p.Task.DoneCriterion)
		}
	}
	if p.ProjectContext != "" {
		fmt.Fprintf(&sb, "\nProject context:\n%s\n", p.ProjectContext)
	}
	if len(p.Memories) > 0 {
		sb.WriteString("\nRelevant prior work:\n")
		for _, mem := range p.Memories {
			fmt.Fprintf(&sb, "- %s\n", mem)
		}
	}
	return sb.String()
}

// Send delivers text to agent's session, honoring the anti-spam invariant:
// if the last antiSpamCheckLines of output already show a "queued
// messages" marker, the send is discarded and logged rather than
// overwriting an unread message (spec §4.5).
func (m *Manager) Send(ctx context.Context, a *models.Agent, text string) error {
	recent, err := m.host.Capture(a.SessionName, m.antiSpamCheckLines)
	if err != nil {
		return fmt.Errorf("capturing recent output for agent %s: %w", a.ID, err)
	}

	if strings.Contains(recent, queuedMessagesMarker) {
		return m.store.AppendAgentLog(ctx, &models.AgentLog{
			ID: uuid.NewString(), AgentID: a.ID, Type: models.AgentLogTypeSteering,
			Content: text, Discarded: true,
		})
	}

	if err := m.host.Send(ctx, a.SessionName, text); err != nil {
		return fmt.Errorf("sending to agent %s: %w", a.ID, err)
	}
	return m.store.AppendAgentLog(ctx, &models.AgentLog{
		ID: uuid.NewString(), AgentID: a.ID, Type: models.AgentLogTypeSteering,
		Content: text, Discarded: false,
	})
}

// Output returns the trailing n lines of an agent's terminal output: live
// from the session when it is not terminated, from the persisted
// transcript otherwise (spec §4.5).
func (m *Manager) Output(ctx context.Context, a *models.Agent, n int) (string, error) {
	if a.Status != models.AgentStatusTerminated {
		if n <= 0 {
			n = m.captureLines
		}
		out, err := m.host.Capture(a.SessionName, n)
		if err != nil {
			return "", fmt.Errorf("capturing output for agent %s: %w", a.ID, err)
		}
		return m.redact(out), nil
	}

	return m.terminatedTranscript(ctx, a)
}

func (m *Manager) terminatedTranscript(ctx context.Context, a *models.Agent) (string, error) {
	rows, err := m.store.ListAgentLogsByTypes(ctx, a.ID, []models.AgentLogType{models.AgentLogTypeTerminated})
	if err != nil {
		return "", fmt.Errorf("loading terminated transcript for agent %s: %w", a.ID, err)
	}
	if len(rows) == 0 || rows[len(rows)-1].FinalOutput == nil {
		return "", nil
	}
	return *rows[len(rows)-1].FinalOutput, nil
}

// Terminate captures the last terminateCaptureLines of the session into an
// append-only "terminated" AgentLog, kills the session, then marks the
// agent terminated. On capture failure, it still kills the session and
// marks the agent terminated with an empty transcript (spec §4.5).
func (m *Manager) Terminate(ctx context.Context, a *models.Agent) error {
	finalOutput, lines := m.captureFinal(a)

	now := time.Now()
	if err := m.store.AppendAgentLog(ctx, &models.AgentLog{
		ID: uuid.NewString(), AgentID: a.ID, Type: models.AgentLogTypeTerminated,
		FinalOutput: &finalOutput, OutputLines: &lines, CapturedAt: &now,
	}); err != nil {
		return fmt.Errorf("logging termination for agent %s: %w", a.ID, err)
	}

	if err := m.host.Kill(a.SessionName); err != nil {
		return fmt.Errorf("killing session for agent %s: %w", a.ID, err)
	}

	a.Status = models.AgentStatusTerminated
	a.TerminatedAt = &now
	if err := m.store.UpdateAgent(ctx, a); err != nil {
		return fmt.Errorf("marking agent %s terminated: %w", a.ID, err)
	}
	return nil
}

func (m *Manager) captureFinal(a *models.Agent) (string, int) {
	out, err := m.host.Capture(a.SessionName, m.terminateCaptureLines)
	if err != nil {
		return "", 0
	}
	if out == "" {
		return "", 0
	}
	out = m.redact(out)
	return out, strings.Count(out, "\n") + 1
}

// HasLiveSession reports whether a running session backs a, used by the
// monitor loop to detect sessions that vanished out from under a
// non-terminated agent (restart trigger, spec §4.5 failure semantics).
func (m *Manager) HasLiveSession(a *models.Agent) bool {
	return m.host.Has(a.SessionName)
}

// Restart re-creates a missing session for a non-terminated agent, reusing
// its existing id, worktree, and task linkage.
func (m *Manager) Restart(ctx context.Context, a *models.Agent, resumePrompt string) error {
	wt, err := m.store.GetWorktreeByAgent(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("loading worktree for agent %s: %w", a.ID, err)
	}
	if err := m.host.Create(ctx, a.SessionName, wt.Path); err != nil {
		return fmt.Errorf("recreating session for agent %s: %w", a.ID, err)
	}
	if resumePrompt == "" {
		return nil
	}
	return m.Send(ctx, a, resumePrompt)
}
