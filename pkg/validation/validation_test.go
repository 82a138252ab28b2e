package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hephaestus-ai/hephaestus/pkg/agent"
	"github.com/hephaestus-ai/hephaestus/pkg/models"
)

type fakeStore struct {
	tasks       map[string]*models.Task
	agents      map[string]*models.Agent
	worktrees   map[string]*models.Worktree // keyed by agent id
	results     []*models.WorkflowResult
	validated   map[string]bool
	updatedWT   []*models.Worktree
}

func (f *fakeStore) UpdateTask(ctx context.Context, t *models.Task) error {
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeStore) UpdateAgent(ctx context.Context, a *models.Agent) error {
	f.agents[a.ID] = a
	return nil
}

func (f *fakeStore) GetWorktreeByAgent(ctx context.Context, agentID string) (*models.Worktree, error) {
	w, ok := f.worktrees[agentID]
	if !ok {
		return nil, assert.AnError
	}
	return w, nil
}

func (f *fakeStore) UpdateWorktree(ctx context.Context, w *models.Worktree) error {
	f.updatedWT = append(f.updatedWT, w)
	return nil
}

func (f *fakeStore) CreateWorkflowResult(ctx context.Context, r *models.WorkflowResult) error {
	f.results = append(f.results, r)
	return nil
}

func (f *fakeStore) UpdateWorkflowResultValidated(ctx context.Context, id string, validated bool) error {
	if f.validated == nil {
		f.validated = map[string]bool{}
	}
	f.validated[id] = validated
	return nil
}

type fakeWorktreeOps struct {
	commitSHA string
	mergeSHA  string
	commitErr error
	mergeErr  error
	mergedTo  string
}

func (f *fakeWorktreeOps) CommitForValidation(ctx context.Context, w *models.Worktree, iteration int) (string, error) {
	if f.commitErr != nil {
		return "", f.commitErr
	}
	return f.commitSHA, nil
}

func (f *fakeWorktreeOps) MergeToParent(ctx context.Context, w *models.Worktree, parentPath string) (string, error) {
	if f.mergeErr != nil {
		return "", f.mergeErr
	}
	f.mergedTo = parentPath
	return f.mergeSHA, nil
}

type fakeAgentOps struct {
	spawned     []agent.SpawnParams
	spawnErr    error
	spawnResult *models.Agent
	sent        []string
	terminated  []string
}

func (f *fakeAgentOps) Spawn(ctx context.Context, p agent.SpawnParams) (*models.Agent, error) {
	f.spawned = append(f.spawned, p)
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	if f.spawnResult != nil {
		return f.spawnResult, nil
	}
	return &models.Agent{ID: "validator-1"}, nil
}

func (f *fakeAgentOps) Send(ctx context.Context, a *models.Agent, text string) error {
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeAgentOps) Terminate(ctx context.Context, a *models.Agent) error {
	f.terminated = append(f.terminated, a.ID)
	return nil
}

type fakeTicketLinker struct {
	linked []string
}

func (f *fakeTicketLinker) LinkCommit(ctx context.Context, ticketID, taskID, commitSHA string) error {
	f.linked = append(f.linked, ticketID+":"+taskID+":"+commitSHA)
	return nil
}

type fakeQueueDrainer struct {
	drained bool
}

func (f *fakeQueueDrainer) ProcessQueue(ctx context.Context) error {
	f.drained = true
	return nil
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:     map[string]*models.Task{},
		agents:    map[string]*models.Agent{},
		worktrees: map[string]*models.Worktree{},
	}
}

func TestRequestTaskValidationSpawnsValidatorAndKeepsOriginalAlive(t *testing.T) {
	st := newFakeStore()
	original := &models.Agent{ID: "agent-1"}
	st.worktrees["agent-1"] = &models.Worktree{ID: "wt-1", Path: "/repo/wt-1"}
	wtops := &fakeWorktreeOps{commitSHA: "sha-1"}
	aops := &fakeAgentOps{spawnResult: &models.Agent{ID: "validator-1"}}
	svc := NewService(st, wtops, aops, nil, nil, "/repo")

	task := &models.Task{ID: "task-1", DoneCriterion: "it works"}
	validator, err := svc.RequestTaskValidation(context.Background(), task, original)

	require.NoError(t, err)
	assert.Equal(t, "validator-1", validator.ID)
	assert.Equal(t, models.TaskStatusUnderReview, st.tasks["task-1"].Status)
	assert.Equal(t, 1, st.tasks["task-1"].ValidationIteration)
	assert.True(t, st.agents["agent-1"].KeptAliveForValidation)
	require.Len(t, aops.spawned, 1)
	assert.Equal(t, models.AgentTypeValidator, aops.spawned[0].AgentType)
	assert.Equal(t, "/repo/wt-1", aops.spawned[0].ExistingWorktreeDir)
}

func TestRequestTaskValidationFailsTaskWhenValidatorSpawnFails(t *testing.T) {
	st := newFakeStore()
	original := &models.Agent{ID: "agent-1"}
	st.worktrees["agent-1"] = &models.Worktree{ID: "wt-1", Path: "/repo/wt-1"}
	wtops := &fakeWorktreeOps{commitSHA: "sha-1"}
	aops := &fakeAgentOps{spawnErr: assert.AnError}
	qd := &fakeQueueDrainer{}
	svc := NewService(st, wtops, aops, nil, qd, "/repo")

	task := &models.Task{ID: "task-1"}
	_, err := svc.RequestTaskValidation(context.Background(), task, original)

	require.Error(t, err)
	assert.Equal(t, models.TaskStatusFailed, st.tasks["task-1"].Status)
	require.NotNil(t, st.tasks["task-1"].FailureReason)
	assert.Contains(t, *st.tasks["task-1"].FailureReason, "validator spawn failed")
	assert.Equal(t, []string{"agent-1"}, aops.terminated)
	assert.True(t, qd.drained)
}

func TestSubmitTaskVerdictPassMergesLinksAndTerminatesBoth(t *testing.T) {
	st := newFakeStore()
	original := &models.Agent{ID: "agent-1"}
	validator := &models.Agent{ID: "validator-1"}
	st.worktrees["agent-1"] = &models.Worktree{ID: "wt-1", Path: "/repo/wt-1"}
	wtops := &fakeWorktreeOps{mergeSHA: "merge-sha"}
	aops := &fakeAgentOps{}
	tickets := &fakeTicketLinker{}
	svc := NewService(st, wtops, aops, tickets, nil, "/repo")

	ticketID := "ticket-1"
	task := &models.Task{ID: "task-1", TicketID: &ticketID}
	err := svc.SubmitTaskVerdict(context.Background(), task, original, validator, true, "")

	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusDone, st.tasks["task-1"].Status)
	require.Len(t, st.updatedWT, 1)
	assert.Equal(t, models.WorktreeMergeStatusMerged, st.updatedWT[0].MergeStatus)
	require.NotNil(t, st.updatedWT[0].MergeCommitSHA)
	assert.Equal(t, "merge-sha", *st.updatedWT[0].MergeCommitSHA)
	assert.Equal(t, "/repo", wtops.mergedTo)
	require.Len(t, tickets.linked, 1)
	assert.Contains(t, tickets.linked[0], "merge-sha")
	assert.ElementsMatch(t, []string{"agent-1", "validator-1"}, aops.terminated)
}

func TestSubmitTaskVerdictFailReturnsTaskAndTerminatesOnlyValidator(t *testing.T) {
	st := newFakeStore()
	original := &models.Agent{ID: "agent-1"}
	validator := &models.Agent{ID: "validator-1"}
	aops := &fakeAgentOps{}
	svc := NewService(st, &fakeWorktreeOps{}, aops, nil, nil, "/repo")

	task := &models.Task{ID: "task-1"}
	err := svc.SubmitTaskVerdict(context.Background(), task, original, validator, false, "needs more tests")

	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusAssigned, st.tasks["task-1"].Status)
	assert.Equal(t, []string{"needs more tests"}, aops.sent)
	assert.Equal(t, []string{"validator-1"}, aops.terminated)
}

func TestSubmitTaskVerdictPassMergesToParentAgentWorktreeWhenNested(t *testing.T) {
	st := newFakeStore()
	parentID := "agent-0"
	original := &models.Agent{ID: "agent-1"}
	validator := &models.Agent{ID: "validator-1"}
	st.worktrees["agent-1"] = &models.Worktree{ID: "wt-1", Path: "/repo/wt-1", ParentAgentID: &parentID}
	st.worktrees["agent-0"] = &models.Worktree{ID: "wt-0", Path: "/repo/wt-0"}
	wtops := &fakeWorktreeOps{mergeSHA: "merge-sha"}
	svc := NewService(st, wtops, &fakeAgentOps{}, nil, nil, "/repo")

	task := &models.Task{ID: "task-1"}
	err := svc.SubmitTaskVerdict(context.Background(), task, original, validator, true, "")

	require.NoError(t, err)
	assert.Equal(t, "/repo/wt-0", wtops.mergedTo)
}

func TestSubmitResultSpawnsResultValidatorWhenRequested(t *testing.T) {
	st := newFakeStore()
	submitter := &models.Agent{ID: "agent-1"}
	aops := &fakeAgentOps{spawnResult: &models.Agent{ID: "result-validator-1"}}
	svc := NewService(st, &fakeWorktreeOps{}, aops, nil, nil, "/repo")

	result, validator, err := svc.SubmitResult(context.Background(), "wf-1", submitter, "done", true)

	require.NoError(t, err)
	require.NotNil(t, result)
	require.NotNil(t, validator)
	assert.Equal(t, "result-validator-1", validator.ID)
	require.Len(t, st.results, 1)
	assert.Equal(t, "wf-1", st.results[0].WorkflowID)
	require.Len(t, aops.spawned, 1)
	assert.Equal(t, models.AgentTypeResultValidator, aops.spawned[0].AgentType)
}

func TestSubmitResultSkipsSpawnWhenNotRequested(t *testing.T) {
	st := newFakeStore()
	submitter := &models.Agent{ID: "agent-1"}
	aops := &fakeAgentOps{}
	svc := NewService(st, &fakeWorktreeOps{}, aops, nil, nil, "/repo")

	result, validator, err := svc.SubmitResult(context.Background(), "wf-1", submitter, "done", false)

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Nil(t, validator)
	assert.Empty(t, aops.spawned)
}

func TestSubmitWorkflowVerdictPassMarksValidatedAndTerminatesBoth(t *testing.T) {
	st := newFakeStore()
	submitter := &models.Agent{ID: "agent-1"}
	validator := &models.Agent{ID: "validator-1"}
	aops := &fakeAgentOps{}
	svc := NewService(st, &fakeWorktreeOps{}, aops, nil, nil, "/repo")

	result := &models.WorkflowResult{ID: "result-1"}
	err := svc.SubmitWorkflowVerdict(context.Background(), result, submitter, validator, true, "")

	require.NoError(t, err)
	assert.True(t, st.validated["result-1"])
	assert.ElementsMatch(t, []string{"agent-1", "validator-1"}, aops.terminated)
}

func TestSubmitWorkflowVerdictFailSendsFeedbackAndKeepsSubmitter(t *testing.T) {
	st := newFakeStore()
	submitter := &models.Agent{ID: "agent-1"}
	validator := &models.Agent{ID: "validator-1"}
	aops := &fakeAgentOps{}
	svc := NewService(st, &fakeWorktreeOps{}, aops, nil, nil, "/repo")

	result := &models.WorkflowResult{ID: "result-1"}
	err := svc.SubmitWorkflowVerdict(context.Background(), result, submitter, validator, false, "try again")

	require.NoError(t, err)
	assert.False(t, st.validated["result-1"])
	assert.Equal(t, []string{"try again"}, aops.sent)
	assert.Equal(t, []string{"validator-1"}, aops.terminated)
}
