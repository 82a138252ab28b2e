package queue

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hephaestus-ai/hephaestus/pkg/blocking"
	"github.com/hephaestus-ai/hephaestus/pkg/config"
	"github.com/hephaestus-ai/hephaestus/pkg/models"
	"github.com/jackc/pgx/v5"
)

// fakeStore is an in-memory stand-in for pkg/store.Store, scoped to the
// handful of methods QueueService calls.
type fakeStore struct {
	tasks        map[string]*models.Task
	activeAgents int
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: make(map[string]*models.Task)}
}

func (f *fakeStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, assert.AnError
	}
	return t, nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, t *models.Task) error {
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeStore) ListQueuedTasksOrdered(ctx context.Context) ([]*models.Task, error) {
	var out []*models.Task
	for _, t := range f.tasks {
		if t.Status == models.TaskStatusQueued {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PriorityBoosted != out[j].PriorityBoosted {
			return out[i].PriorityBoosted
		}
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() > out[j].Priority.Rank()
		}
		return out[i].QueuedAt.Before(*out[j].QueuedAt)
	})
	return out, nil
}

func (f *fakeStore) CountActiveAgents(ctx context.Context) (int, error) {
	return f.activeAgents, nil
}

// WithTx returns nil without calling fn: fn would run
// store.RecomputeQueuePositions, which needs a real pgx.Tx, and the
// recomputingService override below does the position bookkeeping instead.
func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return nil
}

// recomputingService wraps Service to stub RecomputePositions against the
// fake store instead of real SQL, since store.RecomputeQueuePositions
// requires an actual pgx.Tx.
type recomputingService struct {
	*Service
	fs *fakeStore
}

func (s *recomputingService) RecomputePositions(ctx context.Context) error {
	tasks, err := s.fs.ListQueuedTasksOrdered(ctx)
	if err != nil {
		return err
	}
	for i, t := range tasks {
		pos := i + 1
		t.QueuePosition = &pos
	}
	return nil
}

func newTestService(fs *fakeStore, blocker Blocker) *recomputingService {
	svc := NewService(fs, blocker, config.DefaultQueueConfig())
	return &recomputingService{Service: svc, fs: fs}
}

func queuedTask(id string, priority models.TaskPriority, queuedAt time.Time) *models.Task {
	return &models.Task{ID: id, Status: models.TaskStatusQueued, Priority: priority, QueuedAt: &queuedAt}
}

func TestAdmit(t *testing.T) {
	fs := newFakeStore()
	cfg := config.DefaultQueueConfig()
	cfg.MaxConcurrentAgents = 1
	svc := NewService(fs, nil, cfg)

	decision, err := svc.Admit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionRunNow, decision)

	fs.activeAgents = 1
	decision, err = svc.Admit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionEnqueue, decision)
}

func TestBoostReordersQueue(t *testing.T) {
	fs := newFakeStore()
	now := time.Now()
	t1 := queuedTask("t1", models.TaskPriorityMedium, now)
	t2 := queuedTask("t2", models.TaskPriorityHigh, now.Add(time.Second))
	t3 := queuedTask("t3", models.TaskPriorityLow, now.Add(2*time.Second))
	fs.tasks[t1.ID] = t1
	fs.tasks[t2.ID] = t2
	fs.tasks[t3.ID] = t3

	svc := newTestService(fs, nil)
	require.NoError(t, svc.RecomputePositions(context.Background()))

	order, err := fs.ListQueuedTasksOrdered(context.Background())
	require.NoError(t, err)
	require.Len(t, order, 3)
	assert.Equal(t, []string{"t2", "t1", "t3"}, []string{order[0].ID, order[1].ID, order[2].ID})

	require.NoError(t, svc.Boost(context.Background(), t3))
	require.NoError(t, svc.RecomputePositions(context.Background()))

	order, err = fs.ListQueuedTasksOrdered(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"t3", "t2", "t1"}, []string{order[0].ID, order[1].ID, order[2].ID})
}

func TestDequeueRequiresQueuedStatus(t *testing.T) {
	fs := newFakeStore()
	task := &models.Task{ID: "t1", Status: models.TaskStatusAssigned}
	fs.tasks[task.ID] = task

	svc := newTestService(fs, nil)
	err := svc.Dequeue(context.Background(), task)
	assert.Error(t, err)
}

// blockedBlocker always reports the task blocked.
type blockedBlocker struct {
	ids []string
}

func (b blockedBlocker) Check(ctx context.Context, task *models.Task) (blocking.CheckResult, error) {
	return blocking.CheckResult{Blocked: true, BlockingTicketIDs: b.ids}, nil
}

func TestEnqueueRoutesBlockedTaskToBlockedStatus(t *testing.T) {
	fs := newFakeStore()
	task := &models.Task{ID: "t1", Status: models.TaskStatusPending}
	fs.tasks[task.ID] = task

	svc := newTestService(fs, blockedBlocker{ids: []string{"ticket-y"}})
	require.NoError(t, svc.Enqueue(context.Background(), task))

	assert.Equal(t, models.TaskStatusBlocked, task.Status)
	assert.Nil(t, task.QueuePosition)
	require.NotNil(t, task.BlockedReason)
}

func TestAdmissionBypassBookkeeping(t *testing.T) {
	svc := NewService(newFakeStore(), nil, config.DefaultQueueConfig())
	assert.Equal(t, 0, svc.OutstandingBumps())
	svc.AdmitBypass()
	svc.AdmitBypass()
	assert.Equal(t, 2, svc.OutstandingBumps())
	svc.ReleaseBypass()
	assert.Equal(t, 1, svc.OutstandingBumps())
}
