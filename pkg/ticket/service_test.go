package ticket

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hephaestus-ai/hephaestus/pkg/apperr"
	"github.com/hephaestus-ai/hephaestus/pkg/models"
)

type fakeStore struct {
	tickets map[string]*models.Ticket
	boards  map[string]*models.BoardConfig
	audit   []*models.TicketAuditEvent
	comments []*models.TicketComment
	links    []*models.TicketCommitLink
}

func newFakeStore() *fakeStore {
	return &fakeStore{tickets: map[string]*models.Ticket{}, boards: map[string]*models.BoardConfig{}}
}

func (f *fakeStore) CreateTicket(ctx context.Context, t *models.Ticket) error {
	f.tickets[t.ID] = t
	return nil
}

func (f *fakeStore) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	t, ok := f.tickets[id]
	if !ok {
		return nil, apperr.NotFound("ticket:" + id)
	}
	return t, nil
}

func (f *fakeStore) UpdateTicket(ctx context.Context, t *models.Ticket) error {
	f.tickets[t.ID] = t
	return nil
}

func (f *fakeStore) ListTicketsByWorkflow(ctx context.Context, workflowID string, status *string) ([]*models.Ticket, error) {
	var out []*models.Ticket
	for _, t := range f.tickets {
		if t.WorkflowID == workflowID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) ListBlockedTickets(ctx context.Context, workflowID string) ([]*models.Ticket, error) {
	var out []*models.Ticket
	for _, t := range f.tickets {
		if t.WorkflowID == workflowID && len(t.BlockedByTicketIDs) > 0 {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) SearchTicketsByKeyword(ctx context.Context, workflowID, query string, limit int) ([]*models.Ticket, error) {
	return nil, nil
}

func (f *fakeStore) CreateTicketComment(ctx context.Context, c *models.TicketComment) error {
	f.comments = append(f.comments, c)
	return nil
}

func (f *fakeStore) ListTicketComments(ctx context.Context, ticketID string) ([]*models.TicketComment, error) {
	return f.comments, nil
}

func (f *fakeStore) CreateTicketCommitLink(ctx context.Context, l *models.TicketCommitLink) error {
	f.links = append(f.links, l)
	return nil
}

func (f *fakeStore) AppendTicketAuditEvent(ctx context.Context, e *models.TicketAuditEvent) error {
	f.audit = append(f.audit, e)
	return nil
}

func (f *fakeStore) ListTicketAuditEvents(ctx context.Context, ticketID string) ([]*models.TicketAuditEvent, error) {
	var out []*models.TicketAuditEvent
	for _, e := range f.audit {
		if e.TicketID == ticketID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) ResolveTicketAndUnblock(ctx context.Context, t *models.Ticket, dependents []*models.Ticket) error {
	f.tickets[t.ID] = t
	f.audit = append(f.audit, &models.TicketAuditEvent{
		TicketID: t.ID, Type: models.TicketAuditEventResolved, Detail: "ticket resolved",
	})
	for _, dep := range dependents {
		f.tickets[dep.ID] = dep
		if len(dep.BlockedByTicketIDs) == 0 {
			f.audit = append(f.audit, &models.TicketAuditEvent{
				TicketID: dep.ID, Type: models.TicketAuditEventUnblocked,
				Detail: "unblocked by resolution of " + t.ID,
			})
		}
	}
	return nil
}

func (f *fakeStore) GetBoardConfig(ctx context.Context, workflowID string) (*models.BoardConfig, error) {
	b, ok := f.boards[workflowID]
	if !ok {
		return nil, apperr.NotFound("board:" + workflowID)
	}
	return b, nil
}

func defaultBoard() *models.BoardConfig {
	return &models.BoardConfig{
		WorkflowID:    "wf1",
		Columns:       []string{"todo", "in_progress", "done"},
		InitialStatus: "todo",
	}
}

type fakeBlocker struct {
	calls int
}

func (f *fakeBlocker) Sync(ctx context.Context) ([]error, error) {
	f.calls++
	return nil, nil
}

func TestCreate_AssignsInitialStatusAndID(t *testing.T) {
	st := newFakeStore()
	st.boards["wf1"] = defaultBoard()
	svc := NewService(st, nil, nil, nil, "")

	ticket := &models.Ticket{WorkflowID: "wf1", Title: "fix bug"}
	require.NoError(t, svc.Create(context.Background(), ticket))
	assert.NotEmpty(t, ticket.ID)
	assert.Equal(t, "todo", ticket.Status)
}

func TestCreate_RejectsDisallowedType(t *testing.T) {
	st := newFakeStore()
	board := defaultBoard()
	board.AllowedTicketTypes = []string{"bug"}
	st.boards["wf1"] = board
	svc := NewService(st, nil, nil, nil, "")

	ticket := &models.Ticket{WorkflowID: "wf1", Type: "feature"}
	err := svc.Create(context.Background(), ticket)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
}

func TestCreate_RejectsStatusNotInColumns(t *testing.T) {
	st := newFakeStore()
	st.boards["wf1"] = defaultBoard()
	svc := NewService(st, nil, nil, nil, "")

	ticket := &models.Ticket{WorkflowID: "wf1", Status: "nonexistent"}
	err := svc.Create(context.Background(), ticket)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
}

func TestCreate_RejectsCircularBlockers(t *testing.T) {
	st := newFakeStore()
	st.boards["wf1"] = defaultBoard()
	st.tickets["a"] = &models.Ticket{ID: "a", WorkflowID: "wf1", BlockedByTicketIDs: []string{"subject"}}
	svc := NewService(st, nil, nil, nil, "")

	ticket := &models.Ticket{ID: "subject", WorkflowID: "wf1", BlockedByTicketIDs: []string{"a"}}
	err := svc.Create(context.Background(), ticket)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindCircularBlocking))
}

func TestCreate_EmitsBlockedAuditWhenCreatedWithBlockers(t *testing.T) {
	st := newFakeStore()
	st.boards["wf1"] = defaultBoard()
	st.tickets["blocker"] = &models.Ticket{ID: "blocker", WorkflowID: "wf1"}
	svc := NewService(st, nil, nil, nil, "")

	ticket := &models.Ticket{ID: "subject", WorkflowID: "wf1", BlockedByTicketIDs: []string{"blocker"}}
	require.NoError(t, svc.Create(context.Background(), ticket))
	require.Len(t, st.audit, 1)
	assert.Equal(t, models.TicketAuditEventBlocked, st.audit[0].Type)
}

func TestTransition_RefusedWhileBlocked(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, nil, nil, nil, "")

	ticket := &models.Ticket{ID: "t1", WorkflowID: "wf1", Status: "todo", BlockedByTicketIDs: []string{"other"}}
	err := svc.Transition(context.Background(), ticket, "in_progress")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
}

func TestTransition_AppendsStatusChangeAudit(t *testing.T) {
	st := newFakeStore()
	st.boards["wf1"] = defaultBoard()
	svc := NewService(st, nil, nil, nil, "")

	ticket := &models.Ticket{ID: "t1", WorkflowID: "wf1", Status: "todo"}
	require.NoError(t, svc.Transition(context.Background(), ticket, "in_progress"))
	assert.Equal(t, "in_progress", ticket.Status)
	require.Len(t, st.audit, 1)
	assert.Equal(t, models.TicketAuditEventStatusChange, st.audit[0].Type)
}

func TestSetBlockedBy_RejectsCycle(t *testing.T) {
	st := newFakeStore()
	st.tickets["a"] = &models.Ticket{ID: "a", WorkflowID: "wf1", BlockedByTicketIDs: []string{"subject"}}
	svc := NewService(st, nil, nil, nil, "")

	ticket := &models.Ticket{ID: "subject", WorkflowID: "wf1"}
	err := svc.SetBlockedBy(context.Background(), ticket, []string{"a"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindCircularBlocking))
}

func TestSetBlockedBy_EmitsUnblockedAuditWhenClearingLastBlocker(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, nil, nil, nil, "")

	ticket := &models.Ticket{ID: "t1", WorkflowID: "wf1", BlockedByTicketIDs: []string{"old"}}
	require.NoError(t, svc.SetBlockedBy(context.Background(), ticket, nil))
	assert.Empty(t, ticket.BlockedByTicketIDs)
	require.Len(t, st.audit, 1)
	assert.Equal(t, models.TicketAuditEventUnblocked, st.audit[0].Type)
}

func TestResolve_CascadesUnblockToDependents(t *testing.T) {
	st := newFakeStore()
	resolved := &models.Ticket{ID: "resolved", WorkflowID: "wf1"}
	dependent := &models.Ticket{ID: "dependent", WorkflowID: "wf1", BlockedByTicketIDs: []string{"resolved", "other"}}
	st.tickets["resolved"] = resolved
	st.tickets["dependent"] = dependent

	blocker := &fakeBlocker{}
	svc := NewService(st, blocker, nil, nil, "")

	require.NoError(t, svc.Resolve(context.Background(), resolved))
	assert.True(t, resolved.IsResolved)
	assert.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, []string{"other"}, dependent.BlockedByTicketIDs)
	assert.Equal(t, 1, blocker.calls)
}

func TestResolve_FullyClearedDependentGetsUnblockedAudit(t *testing.T) {
	st := newFakeStore()
	resolved := &models.Ticket{ID: "resolved", WorkflowID: "wf1"}
	dependent := &models.Ticket{ID: "dependent", WorkflowID: "wf1", BlockedByTicketIDs: []string{"resolved"}}
	st.tickets["resolved"] = resolved
	st.tickets["dependent"] = dependent

	svc := NewService(st, &fakeBlocker{}, nil, nil, "")
	require.NoError(t, svc.Resolve(context.Background(), resolved))

	require.Empty(t, dependent.BlockedByTicketIDs)
	found := false
	for _, e := range st.audit {
		if e.TicketID == "dependent" && e.Type == models.TicketAuditEventUnblocked {
			found = true
		}
	}
	assert.True(t, found)
}

func TestLinkCommit_PersistsLink(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, nil, nil, nil, "")

	require.NoError(t, svc.LinkCommit(context.Background(), "ticket1", "task1", "abc123"))
	require.Len(t, st.links, 1)
	assert.Equal(t, "ticket1", st.links[0].TicketID)
	assert.Equal(t, "abc123", st.links[0].CommitSHA)
}

func TestAddComment_PersistsComment(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, nil, nil, nil, "")

	c, err := svc.AddComment(context.Background(), "ticket1", "author1", "looks good")
	require.NoError(t, err)
	assert.Equal(t, "looks good", c.Body)
	require.Len(t, st.comments, 1)
}
