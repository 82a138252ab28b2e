package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hephaestus-ai/hephaestus/pkg/models"
)

type fakeHost struct {
	created map[string]string
	sent    map[string][]string
	killed  map[string]bool
	capture string
	captureErr error
}

func newFakeHost() *fakeHost {
	return &fakeHost{created: map[string]string{}, sent: map[string][]string{}, killed: map[string]bool{}}
}

func (f *fakeHost) Create(ctx context.Context, name, workingDir string) error {
	f.created[name] = workingDir
	return nil
}

func (f *fakeHost) Has(name string) bool {
	_, ok := f.created[name]
	return ok && !f.killed[name]
}

func (f *fakeHost) Send(ctx context.Context, name, text string) error {
	f.sent[name] = append(f.sent[name], text)
	return nil
}

func (f *fakeHost) Capture(name string, n int) (string, error) {
	if f.captureErr != nil {
		return "", f.captureErr
	}
	return f.capture, nil
}

func (f *fakeHost) Kill(name string) error {
	f.killed[name] = true
	return nil
}

type fakeWorktrees struct {
	created []*models.Agent
	wt      *models.Worktree
}

func (f *fakeWorktrees) Create(ctx context.Context, a *models.Agent, parent *models.Worktree) (*models.Worktree, error) {
	f.created = append(f.created, a)
	if f.wt != nil {
		return f.wt, nil
	}
	return &models.Worktree{ID: "wt1", AgentID: a.ID, Path: "/tmp/wt-" + a.ID}, nil
}

type fakeStore struct {
	agents    map[string]*models.Agent
	logs      []*models.AgentLog
	worktrees map[string]*models.Worktree
}

func newFakeStore() *fakeStore {
	return &fakeStore{agents: map[string]*models.Agent{}, worktrees: map[string]*models.Worktree{}}
}

func (f *fakeStore) CreateAgent(ctx context.Context, a *models.Agent) error {
	f.agents[a.ID] = a
	return nil
}

func (f *fakeStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	return f.agents[id], nil
}

func (f *fakeStore) UpdateAgent(ctx context.Context, a *models.Agent) error {
	f.agents[a.ID] = a
	return nil
}

func (f *fakeStore) AppendAgentLog(ctx context.Context, l *models.AgentLog) error {
	f.logs = append(f.logs, l)
	return nil
}

func (f *fakeStore) ListAgentLogsByTypes(ctx context.Context, agentID string, types []models.AgentLogType) ([]*models.AgentLog, error) {
	allowed := map[models.AgentLogType]bool{}
	for _, t := range types {
		allowed[t] = true
	}
	var out []*models.AgentLog
	for _, l := range f.logs {
		if l.AgentID == agentID && allowed[l.Type] {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeStore) GetWorktreeByAgent(ctx context.Context, agentID string) (*models.Worktree, error) {
	return f.worktrees[agentID], nil
}

type fakeRedactor struct {
	called bool
}

func (f *fakeRedactor) Redact(data string) string {
	f.called = true
	return "REDACTED:" + data
}

func TestSpawn_CreatesWorktreeSessionAndPersistsAgent(t *testing.T) {
	host := newFakeHost()
	wts := &fakeWorktrees{}
	st := newFakeStore()
	mgr := NewManager(host, wts, st, nil)

	task := &models.Task{ID: "task1", DoneCriterion: "tests pass"}
	a, err := mgr.Spawn(context.Background(), SpawnParams{Task: task, Enriched: "do it", AgentType: models.AgentTypePhase})
	require.NoError(t, err)

	assert.Equal(t, models.AgentStatusWorking, a.Status)
	assert.Equal(t, "task1", *a.CurrentTaskID)
	require.Len(t, wts.created, 1)
	assert.Contains(t, host.created, a.SessionName)
	require.Len(t, host.sent[a.SessionName], 1)
	assert.Contains(t, host.sent[a.SessionName][0], "do it")
	assert.Contains(t, host.sent[a.SessionName][0], "tests pass")
	assert.Contains(t, st.agents, a.ID)
}

func TestSpawn_ReusesExistingWorktreeDir(t *testing.T) {
	host := newFakeHost()
	wts := &fakeWorktrees{}
	st := newFakeStore()
	mgr := NewManager(host, wts, st, nil)

	a, err := mgr.Spawn(context.Background(), SpawnParams{
		AgentType: models.AgentTypeValidator, UseExistingWorktree: true, ExistingWorktreeDir: "/existing/dir",
	})
	require.NoError(t, err)
	assert.Empty(t, wts.created)
	assert.Equal(t, "/existing/dir", host.created[a.SessionName])
}

func TestSend_DeliversWhenNoQueuedMarker(t *testing.T) {
	host := newFakeHost()
	st := newFakeStore()
	mgr := NewManager(host, &fakeWorktrees{}, st, nil)

	a := &models.Agent{ID: "a1", SessionName: "session1"}
	require.NoError(t, mgr.Send(context.Background(), a, "steer this way"))
	require.Len(t, host.sent["session1"], 1)
	require.Len(t, st.logs, 1)
	assert.False(t, st.logs[0].Discarded)
}

func TestSend_DiscardsWhenQueuedMarkerPresent(t *testing.T) {
	host := newFakeHost()
	host.capture = "... queued messages waiting ..."
	st := newFakeStore()
	mgr := NewManager(host, &fakeWorktrees{}, st, nil)

	a := &models.Agent{ID: "a1", SessionName: "session1"}
	require.NoError(t, mgr.Send(context.Background(), a, "steer this way"))
	assert.Empty(t, host.sent["session1"])
	require.Len(t, st.logs, 1)
	assert.True(t, st.logs[0].Discarded)
}

func TestOutput_LiveSessionGoesThroughRedactor(t *testing.T) {
	host := newFakeHost()
	host.capture = "some output with a secret"
	redactor := &fakeRedactor{}
	mgr := NewManager(host, &fakeWorktrees{}, newFakeStore(), redactor)

	a := &models.Agent{ID: "a1", SessionName: "session1", Status: models.AgentStatusWorking}
	out, err := mgr.Output(context.Background(), a, 100)
	require.NoError(t, err)
	assert.True(t, redactor.called)
	assert.Equal(t, "REDACTED:some output with a secret", out)
}

func TestOutput_TerminatedAgentReadsPersistedTranscript(t *testing.T) {
	st := newFakeStore()
	final := "final transcript"
	st.logs = append(st.logs, &models.AgentLog{AgentID: "a1", Type: models.AgentLogTypeTerminated, FinalOutput: &final})
	mgr := NewManager(newFakeHost(), &fakeWorktrees{}, st, nil)

	a := &models.Agent{ID: "a1", Status: models.AgentStatusTerminated}
	out, err := mgr.Output(context.Background(), a, 100)
	require.NoError(t, err)
	assert.Equal(t, final, out)
}

func TestTerminate_CapturesKillsAndMarksTerminated(t *testing.T) {
	host := newFakeHost()
	host.capture = "line one\nline two"
	st := newFakeStore()
	mgr := NewManager(host, &fakeWorktrees{}, st, nil)

	a := &models.Agent{ID: "a1", SessionName: "session1", Status: models.AgentStatusWorking}
	require.NoError(t, mgr.Terminate(context.Background(), a))

	assert.Equal(t, models.AgentStatusTerminated, a.Status)
	assert.NotNil(t, a.TerminatedAt)
	assert.True(t, host.killed["session1"])
	require.Len(t, st.logs, 1)
	assert.Equal(t, models.AgentLogTypeTerminated, st.logs[0].Type)
	require.NotNil(t, st.logs[0].FinalOutput)
	assert.Equal(t, "line one\nline two", *st.logs[0].FinalOutput)
}

func TestHasLiveSession_ReflectsHostState(t *testing.T) {
	host := newFakeHost()
	mgr := NewManager(host, &fakeWorktrees{}, newFakeStore(), nil)

	a := &models.Agent{SessionName: "session1"}
	assert.False(t, mgr.HasLiveSession(a))

	host.created["session1"] = "/dir"
	assert.True(t, mgr.HasLiveSession(a))

	host.killed["session1"] = true
	assert.False(t, mgr.HasLiveSession(a))
}

func TestRestart_RecreatesSessionFromStoredWorktree(t *testing.T) {
	host := newFakeHost()
	st := newFakeStore()
	st.worktrees["a1"] = &models.Worktree{AgentID: "a1", Path: "/agent-dir"}
	mgr := NewManager(host, &fakeWorktrees{}, st, nil)

	a := &models.Agent{ID: "a1", SessionName: "session1"}
	require.NoError(t, mgr.Restart(context.Background(), a, "resume please"))
	assert.Equal(t, "/agent-dir", host.created["session1"])
	require.Len(t, host.sent["session1"], 1)
	assert.Equal(t, "resume please", host.sent["session1"][0])
}

func TestRestart_SkipsSendWhenNoResumePrompt(t *testing.T) {
	host := newFakeHost()
	st := newFakeStore()
	st.worktrees["a1"] = &models.Worktree{AgentID: "a1", Path: "/agent-dir"}
	mgr := NewManager(host, &fakeWorktrees{}, st, nil)

	a := &models.Agent{ID: "a1", SessionName: "session1"}
	require.NoError(t, mgr.Restart(context.Background(), a, ""))
	assert.Empty(t, host.sent["session1"])
}
