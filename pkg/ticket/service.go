// Package ticket implements TicketService (spec §2, §3, §4.2 interplay):
// CRUD, board-gated status transitions, comment/history, commit linkage,
// and resolve-and-cascade-unblock. Circular blocking is refused outright
// (spec §3 invariant, §7, §8 invariant 2).
package ticket

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hephaestus-ai/hephaestus/pkg/apperr"
	"github.com/hephaestus-ai/hephaestus/pkg/models"
	"github.com/hephaestus-ai/hephaestus/pkg/similarity"
)

// Store is the subset of pkg/store.Store TicketService needs.
type Store interface {
	CreateTicket(ctx context.Context, t *models.Ticket) error
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	UpdateTicket(ctx context.Context, t *models.Ticket) error
	ListTicketsByWorkflow(ctx context.Context, workflowID string, status *string) ([]*models.Ticket, error)
	ListBlockedTickets(ctx context.Context, workflowID string) ([]*models.Ticket, error)
	SearchTicketsByKeyword(ctx context.Context, workflowID, query string, limit int) ([]*models.Ticket, error)
	CreateTicketComment(ctx context.Context, c *models.TicketComment) error
	ListTicketComments(ctx context.Context, ticketID string) ([]*models.TicketComment, error)
	CreateTicketCommitLink(ctx context.Context, l *models.TicketCommitLink) error
	AppendTicketAuditEvent(ctx context.Context, e *models.TicketAuditEvent) error
	ListTicketAuditEvents(ctx context.Context, ticketID string) ([]*models.TicketAuditEvent, error)
	GetBoardConfig(ctx context.Context, workflowID string) (*models.BoardConfig, error)
	// ResolveTicketAndUnblock commits a ticket's resolution together with
	// every already-computed dependent's unblock in one transaction (spec
	// §5: "state transitions happen inside a single transaction each"; §1,
	// §8 invariant 8: resolution "atomically unblocks the transitive
	// closure"). Callers pass dependents with BlockedByTicketIDs already
	// mutated; this only persists and audits.
	ResolveTicketAndUnblock(ctx context.Context, t *models.Ticket, dependents []*models.Ticket) error
}

// Blocker is the subset of pkg/blocking.Service TicketService needs to
// cascade-unblock dependent tasks when a ticket resolves.
type Blocker interface {
	Sync(ctx context.Context) ([]error, error)
}

// VectorIndex is the subset of vectorindex.Index used for ticket search
// (spec §6: "vector store... treated as an opaque similarity index").
type VectorIndex interface {
	Upsert(ctx context.Context, collection string, p VectorPoint) error
}

// VectorPoint mirrors vectorindex.Point to avoid a direct package
// dependency cycle risk; pkg/ticket's caller adapts between the two.
type VectorPoint struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// Embedder is the subset of pkg/llm.Client used to embed ticket text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Service implements TicketService.
type Service struct {
	store    Store
	blocker  Blocker
	embedder Embedder
	index    VectorIndex
	collection string
}

// NewService builds a Service. embedder/index/collection may be left zero
// valued to skip ticket embedding entirely (e.g. in tests).
func NewService(st Store, blocker Blocker, embedder Embedder, index VectorIndex, collection string) *Service {
	return &Service{store: st, blocker: blocker, embedder: embedder, index: index, collection: collection}
}

// Create inserts a new ticket at the board's initial status, after
// validating the ticket's type against the board's allowed types and
// refusing a blocking set that would create a cycle.
func (s *Service) Create(ctx context.Context, t *models.Ticket) error {
	board, err := s.store.GetBoardConfig(ctx, t.WorkflowID)
	if err != nil {
		return fmt.Errorf("loading board config for workflow %s: %w", t.WorkflowID, err)
	}
	if !typeAllowed(board.AllowedTicketTypes, t.Type) {
		return apperr.InvalidTransition(fmt.Sprintf("ticket:%s", t.ID), fmt.Sprintf("type %q is not allowed on this board", t.Type))
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = board.InitialStatus
	}
	if !board.HasColumn(t.Status) {
		return apperr.InvalidTransition(fmt.Sprintf("ticket:%s", t.ID), fmt.Sprintf("status %q is not a board column", t.Status))
	}

	if len(t.BlockedByTicketIDs) > 0 {
		if cycle, err := s.findCycle(ctx, t.ID, t.BlockedByTicketIDs); err != nil {
			return err
		} else if len(cycle) > 0 {
			return apperr.CircularBlocking(fmt.Sprintf("ticket:%s", t.ID), fmt.Sprintf("%v", cycle))
		}
	}

	if s.embedder != nil {
		embedding, err := s.embedder.Embed(ctx, similarity.TicketEmbeddingText(t.Title, t.Description, t.Tags))
		if err != nil {
			// Embedding failure degrades gracefully: the ticket is still
			// created, just without a vector (spec §4.3, §7).
			embedding = nil
		}
		t.Embedding = embedding
	}

	if err := s.store.CreateTicket(ctx, t); err != nil {
		return fmt.Errorf("creating ticket %s: %w", t.ID, err)
	}

	if s.index != nil && len(t.Embedding) > 0 {
		if err := s.index.Upsert(ctx, s.collection, VectorPoint{
			ID: t.ID, Vector: t.Embedding, Metadata: map[string]string{"workflow_id": t.WorkflowID, "type": t.Type},
		}); err != nil {
			return fmt.Errorf("indexing ticket %s: %w", t.ID, err)
		}
	}

	if len(t.BlockedByTicketIDs) > 0 {
		if err := s.appendAudit(ctx, t.ID, models.TicketAuditEventBlocked, fmt.Sprintf("blocked by %v at creation", t.BlockedByTicketIDs)); err != nil {
			return err
		}
	}
	return nil
}

func typeAllowed(allowed []string, t string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == t {
			return true
		}
	}
	return false
}

// Transition moves ticket to newStatus, refusing the change while
// BlockedByTicketIDs is non-empty (spec §3: "a ticket with non-empty
// blocked_by_ticket_ids cannot leave its current status").
func (s *Service) Transition(ctx context.Context, t *models.Ticket, newStatus string) error {
	if len(t.BlockedByTicketIDs) > 0 {
		return apperr.InvalidTransition(fmt.Sprintf("ticket:%s", t.ID), fmt.Sprintf("ticket is blocked by %d ticket(s)", len(t.BlockedByTicketIDs)))
	}
	board, err := s.store.GetBoardConfig(ctx, t.WorkflowID)
	if err != nil {
		return fmt.Errorf("loading board config for workflow %s: %w", t.WorkflowID, err)
	}
	if !board.HasColumn(newStatus) {
		return apperr.InvalidTransition(fmt.Sprintf("ticket:%s", t.ID), fmt.Sprintf("status %q is not a board column", newStatus))
	}

	prev := t.Status
	t.Status = newStatus
	if err := s.store.UpdateTicket(ctx, t); err != nil {
		return fmt.Errorf("transitioning ticket %s: %w", t.ID, err)
	}
	return s.appendAudit(ctx, t.ID, models.TicketAuditEventStatusChange, fmt.Sprintf("%s -> %s", prev, newStatus))
}

// SetBlockedBy replaces t's blocker set, refusing any set that would
// introduce a cycle through the full ticket graph (spec §3, §7, §8
// invariant 2).
func (s *Service) SetBlockedBy(ctx context.Context, t *models.Ticket, blockedBy []string) error {
	cycle, err := s.findCycle(ctx, t.ID, blockedBy)
	if err != nil {
		return err
	}
	if len(cycle) > 0 {
		return apperr.CircularBlocking(fmt.Sprintf("ticket:%s", t.ID), fmt.Sprintf("%v", cycle))
	}

	wasBlocked := len(t.BlockedByTicketIDs) > 0
	t.BlockedByTicketIDs = blockedBy
	if err := s.store.UpdateTicket(ctx, t); err != nil {
		return fmt.Errorf("updating blockers for ticket %s: %w", t.ID, err)
	}

	nowBlocked := len(blockedBy) > 0
	switch {
	case nowBlocked && !wasBlocked:
		return s.appendAudit(ctx, t.ID, models.TicketAuditEventBlocked, fmt.Sprintf("blocked by %v", blockedBy))
	case !nowBlocked && wasBlocked:
		return s.appendAudit(ctx, t.ID, models.TicketAuditEventUnblocked, "blockers cleared")
	}
	return nil
}

// findCycle walks the blocking graph starting from candidateBlockers and
// reports the cycle path if subjectID is reachable from any of them (i.e.
// subjectID would transitively block itself).
func (s *Service) findCycle(ctx context.Context, subjectID string, candidateBlockers []string) ([]string, error) {
	visited := make(map[string]bool)
	var path []string

	var walk func(id string) (bool, error)
	walk = func(id string) (bool, error) {
		if id == subjectID {
			return true, nil
		}
		if visited[id] {
			return false, nil
		}
		visited[id] = true
		path = append(path, id)

		t, err := s.store.GetTicket(ctx, id)
		if err != nil {
			return false, fmt.Errorf("loading ticket %s while checking for cycles: %w", id, err)
		}
		for _, next := range t.BlockedByTicketIDs {
			found, err := walk(next)
			if err != nil {
				return false, err
			}
			if found {
				return true, nil
			}
		}
		path = path[:len(path)-1]
		return false, nil
	}

	for _, b := range candidateBlockers {
		found, err := walk(b)
		if err != nil {
			return nil, err
		}
		if found {
			return append(append([]string{subjectID}, path...), b), nil
		}
	}
	return nil, nil
}

// Resolve marks t resolved and atomically unblocks the transitive closure
// of tickets that named it in their BlockedByTicketIDs, emitting an
// "unblocked" audit entry for each (spec §8 invariant 8), then triggers
// TaskBlockingService.Sync so dependent tasks move out of blocked.
func (s *Service) Resolve(ctx context.Context, t *models.Ticket) error {
	dependents, err := s.dependentsOf(ctx, t.WorkflowID, t.ID)
	if err != nil {
		return fmt.Errorf("finding dependents of ticket %s: %w", t.ID, err)
	}

	now := time.Now()
	t.IsResolved = true
	t.ResolvedAt = &now
	for _, dep := range dependents {
		dep.BlockedByTicketIDs = removeID(dep.BlockedByTicketIDs, t.ID)
	}

	// Resolve + cascade-unblock commits as one transaction (spec §5: "state
	// transitions happen inside a single transaction each"; §1/§8 invariant
	// 8: resolution "atomically unblocks the transitive closure" — a
	// failure partway through must not leave some dependents unblocked and
	// others still pointing at a resolved blocker).
	if err := s.store.ResolveTicketAndUnblock(ctx, t, dependents); err != nil {
		return fmt.Errorf("resolving ticket %s and cascading unblock: %w", t.ID, err)
	}

	if s.blocker != nil {
		if _, err := s.blocker.Sync(ctx); err != nil {
			return fmt.Errorf("syncing task blocking state after resolving ticket %s: %w", t.ID, err)
		}
	}
	return nil
}

func (s *Service) dependentsOf(ctx context.Context, workflowID, ticketID string) ([]*models.Ticket, error) {
	all, err := s.store.ListBlockedTickets(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	var out []*models.Ticket
	for _, t := range all {
		for _, b := range t.BlockedByTicketIDs {
			if b == ticketID {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

func removeID(ids []string, target string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// AddComment appends a comment to a ticket's history thread.
func (s *Service) AddComment(ctx context.Context, ticketID, authorID, body string) (*models.TicketComment, error) {
	c := &models.TicketComment{ID: uuid.NewString(), TicketID: ticketID, AuthorID: authorID, Body: body}
	if err := s.store.CreateTicketComment(ctx, c); err != nil {
		return nil, fmt.Errorf("adding comment to ticket %s: %w", ticketID, err)
	}
	return c, nil
}

// LinkCommit auto-links a validated commit sha to a ticket (spec §4.10:
// commit linkage happens on successful task validation).
func (s *Service) LinkCommit(ctx context.Context, ticketID, taskID, commitSHA string) error {
	l := &models.TicketCommitLink{ID: uuid.NewString(), TicketID: ticketID, TaskID: taskID, CommitSHA: commitSHA}
	if err := s.store.CreateTicketCommitLink(ctx, l); err != nil {
		return fmt.Errorf("linking commit %s to ticket %s: %w", commitSHA, ticketID, err)
	}
	return nil
}

func (s *Service) appendAudit(ctx context.Context, ticketID string, typ models.TicketAuditEventType, detail string) error {
	if err := s.store.AppendTicketAuditEvent(ctx, &models.TicketAuditEvent{
		ID: uuid.NewString(), TicketID: ticketID, Type: typ, Detail: detail,
	}); err != nil {
		return fmt.Errorf("appending audit event for ticket %s: %w", ticketID, err)
	}
	return nil
}
