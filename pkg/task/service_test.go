package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hephaestus-ai/hephaestus/pkg/agent"
	"github.com/hephaestus-ai/hephaestus/pkg/blocking"
	"github.com/hephaestus-ai/hephaestus/pkg/llm"
	"github.com/hephaestus-ai/hephaestus/pkg/models"
	"github.com/hephaestus-ai/hephaestus/pkg/queue"
	"github.com/hephaestus-ai/hephaestus/pkg/similarity"
)

type fakeStore struct {
	tasks  map[string]*models.Task
	phases map[string]*models.Phase
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[string]*models.Task{}, phases: map[string]*models.Phase{}}
}

func (f *fakeStore) CreateTask(ctx context.Context, t *models.Task) error {
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return f.tasks[id], nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, t *models.Task) error {
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeStore) GetPhase(ctx context.Context, id string) (*models.Phase, error) {
	return f.phases[id], nil
}

type fakeEnricher struct {
	result *llm.EnrichTaskResult
	err    error
	calls  int
}

func (f *fakeEnricher) EnrichTask(ctx context.Context, req llm.EnrichTaskRequest) (*llm.EnrichTaskResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeDupes struct {
	result similarity.DuplicateResult
	err    error
}

func (f *fakeDupes) CheckTaskDuplicate(ctx context.Context, t *models.Task, enrichedText string) (similarity.DuplicateResult, error) {
	return f.result, f.err
}

func (f *fakeDupes) PersistRelated(ctx context.Context, taskID string, related []similarity.RelatedMatch) error {
	return nil
}

type fakeBlocker struct{}

func (fakeBlocker) Check(ctx context.Context, t *models.Task) (blocking.CheckResult, error) {
	return blocking.CheckResult{}, nil
}

type fakeQueue struct {
	decision  queue.Decision
	next      *models.Task
	enqueued  []*models.Task
	dequeued  []*models.Task
	admitErr  error
}

func (f *fakeQueue) Enqueue(ctx context.Context, t *models.Task) error {
	f.enqueued = append(f.enqueued, t)
	return nil
}

func (f *fakeQueue) Admit(ctx context.Context) (queue.Decision, error) {
	if f.admitErr != nil {
		return "", f.admitErr
	}
	return f.decision, nil
}

func (f *fakeQueue) Next(ctx context.Context) (*models.Task, error) {
	n := f.next
	f.next = nil
	return n, nil
}

func (f *fakeQueue) Dequeue(ctx context.Context, t *models.Task) error {
	f.dequeued = append(f.dequeued, t)
	return nil
}

type fakeSpawner struct {
	agent *models.Agent
	err   error
	calls int
}

func (f *fakeSpawner) Spawn(ctx context.Context, p agent.SpawnParams) (*models.Agent, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.agent, nil
}

func TestCreate_EnrichesAndEnqueues(t *testing.T) {
	st := newFakeStore()
	enricher := &fakeEnricher{result: &llm.EnrichTaskResult{Enriched: "detailed", EstimatedComplexity: "medium"}}
	q := &fakeQueue{decision: queue.DecisionEnqueue}
	svc := NewService(st, enricher, nil, fakeBlocker{}, q, nil)

	created, err := svc.Create(context.Background(), CreateParams{RawDescription: "do the thing"})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, created.Status)
	assert.Equal(t, "detailed", created.EnrichedDescription)
	assert.NotNil(t, created.EnrichedAt)
	require.Len(t, q.enqueued, 1)
	assert.Equal(t, created.ID, q.enqueued[0].ID)
}

func TestCreate_DefaultsPriorityToMedium(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{decision: queue.DecisionEnqueue}
	svc := NewService(st, nil, nil, fakeBlocker{}, q, nil)

	created, err := svc.Create(context.Background(), CreateParams{RawDescription: "x"})
	require.NoError(t, err)
	assert.Equal(t, models.TaskPriorityMedium, created.Priority)
}

func TestCreate_NilEnricherPassesThroughRawDescription(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{decision: queue.DecisionEnqueue}
	svc := NewService(st, nil, nil, fakeBlocker{}, q, nil)

	created, err := svc.Create(context.Background(), CreateParams{RawDescription: "raw text"})
	require.NoError(t, err)
	assert.Equal(t, "raw text", created.EnrichedDescription)
	assert.NotNil(t, created.EnrichedAt)
}

func TestCreate_EnrichmentFailureDegradesGracefully(t *testing.T) {
	st := newFakeStore()
	enricher := &fakeEnricher{err: assert.AnError}
	q := &fakeQueue{decision: queue.DecisionEnqueue}
	svc := NewService(st, enricher, nil, fakeBlocker{}, q, nil)

	created, err := svc.Create(context.Background(), CreateParams{RawDescription: "x"})
	require.NoError(t, err)
	assert.Nil(t, created.EnrichedAt)
	require.Len(t, q.enqueued, 1)
}

func TestCreate_DuplicateSkipsEnqueue(t *testing.T) {
	st := newFakeStore()
	phaseID := "phase1"
	dupOf := &models.Task{ID: "original"}
	dupes := &fakeDupes{result: similarity.DuplicateResult{IsDuplicate: true, DuplicateOf: dupOf, Similarity: 0.9}}
	q := &fakeQueue{decision: queue.DecisionEnqueue}
	svc := NewService(st, nil, dupes, fakeBlocker{}, q, nil)

	created, err := svc.Create(context.Background(), CreateParams{RawDescription: "x", PhaseID: &phaseID})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusDuplicated, created.Status)
	require.NotNil(t, created.DuplicateOfTaskID)
	assert.Equal(t, "original", *created.DuplicateOfTaskID)
	assert.Empty(t, q.enqueued)
}

func TestCreate_DrainsQueueAndSpawnsAgent(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{decision: queue.DecisionRunNow}
	spawner := &fakeSpawner{agent: &models.Agent{ID: "agent1"}}
	svc := NewService(st, nil, nil, fakeBlocker{}, q, spawner)

	// The fake's Admit reports run_now on every call; after the task is
	// dequeued the fake has nothing left to hand back, so the second Admit
	// call still reports run_now but Next returns nil, ending the drain loop.
	created, err := svc.Create(context.Background(), CreateParams{RawDescription: "x"})
	require.NoError(t, err)
	q.next = created
	require.NoError(t, svc.ProcessQueue(context.Background()))
	assert.Equal(t, 1, spawner.calls)
	require.Len(t, q.dequeued, 1)
	assert.Equal(t, models.TaskStatusInProgress, q.dequeued[0].Status)
	require.NotNil(t, q.dequeued[0].AssignedAgentID)
	assert.Equal(t, "agent1", *q.dequeued[0].AssignedAgentID)
}

func TestProcessQueue_StopsWhenAdmitSaysEnqueue(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{decision: queue.DecisionEnqueue}
	spawner := &fakeSpawner{}
	svc := NewService(st, nil, nil, fakeBlocker{}, q, spawner)

	require.NoError(t, svc.ProcessQueue(context.Background()))
	assert.Equal(t, 0, spawner.calls)
}

func TestEnsureEnriched_RunsOnlyOnce(t *testing.T) {
	st := newFakeStore()
	enricher := &fakeEnricher{result: &llm.EnrichTaskResult{Enriched: "full"}}
	svc := NewService(st, enricher, nil, fakeBlocker{}, &fakeQueue{}, nil)

	task := &models.Task{ID: "t1", RawDescription: "raw"}
	require.NoError(t, svc.EnsureEnriched(context.Background(), task))
	require.NoError(t, svc.EnsureEnriched(context.Background(), task))
	assert.Equal(t, 1, enricher.calls)
}
