package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hephaestus-ai/hephaestus/pkg/models"
	"github.com/jackc/pgx/v5"
)

const ticketColumns = `id, workflow_id, title, description, type, priority, status,
	parent_ticket_id, blocked_by_ticket_ids, tags, embedding, is_resolved,
	resolved_at, created_at, updated_at`

func scanTicket(row pgx.Row) (*models.Ticket, error) {
	var t models.Ticket
	var embeddingRaw []byte
	if err := row.Scan(
		&t.ID, &t.WorkflowID, &t.Title, &t.Description, &t.Type, &t.Priority, &t.Status,
		&t.ParentTicketID, &t.BlockedByTicketIDs, &t.Tags, &embeddingRaw, &t.IsResolved,
		&t.ResolvedAt, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	embedding, err := decodeEmbedding(embeddingRaw)
	if err != nil {
		return nil, fmt.Errorf("decoding ticket embedding: %w", err)
	}
	t.Embedding = embedding
	return &t, nil
}

// CreateTicket inserts a new ticket row.
func (s *Store) CreateTicket(ctx context.Context, t *models.Ticket) error {
	embeddingRaw, err := encodeEmbedding(t.Embedding)
	if err != nil {
		return fmt.Errorf("encoding ticket embedding: %w", err)
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tickets (id, workflow_id, title, description, type, priority, status,
			parent_ticket_id, blocked_by_ticket_ids, tags, embedding, is_resolved,
			resolved_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		t.ID, t.WorkflowID, t.Title, t.Description, t.Type, t.Priority, t.Status,
		t.ParentTicketID, t.BlockedByTicketIDs, t.Tags, embeddingRaw, t.IsResolved,
		t.ResolvedAt, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting ticket: %w", err)
	}
	return nil
}

// GetTicket fetches a ticket by id.
func (s *Store) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id)
	t, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting ticket %s: %w", id, err)
	}
	return t, nil
}

// UpdateTicket persists every mutable field of t.
func (s *Store) UpdateTicket(ctx context.Context, t *models.Ticket) error {
	embeddingRaw, err := encodeEmbedding(t.Embedding)
	if err != nil {
		return fmt.Errorf("encoding ticket embedding: %w", err)
	}
	t.UpdatedAt = time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE tickets SET title=$2, description=$3, type=$4, priority=$5, status=$6,
			parent_ticket_id=$7, blocked_by_ticket_ids=$8, tags=$9, embedding=$10,
			is_resolved=$11, resolved_at=$12, updated_at=$13
		WHERE id=$1`,
		t.ID, t.Title, t.Description, t.Type, t.Priority, t.Status,
		t.ParentTicketID, t.BlockedByTicketIDs, t.Tags, embeddingRaw,
		t.IsResolved, t.ResolvedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating ticket %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTicketTx is UpdateTicket's transaction-scoped form, used by the
// resolve-and-cascade-unblock sequence so the ticket's own resolution and
// every dependent's unblock commit atomically (spec §5: "state transitions
// happen inside a single transaction each"; §1: "atomically unblocks").
func UpdateTicketTx(ctx context.Context, tx pgx.Tx, t *models.Ticket) error {
	embeddingRaw, err := encodeEmbedding(t.Embedding)
	if err != nil {
		return fmt.Errorf("encoding ticket embedding: %w", err)
	}
	t.UpdatedAt = time.Now()
	tag, err := tx.Exec(ctx, `
		UPDATE tickets SET title=$2, description=$3, type=$4, priority=$5, status=$6,
			parent_ticket_id=$7, blocked_by_ticket_ids=$8, tags=$9, embedding=$10,
			is_resolved=$11, resolved_at=$12, updated_at=$13
		WHERE id=$1`,
		t.ID, t.Title, t.Description, t.Type, t.Priority, t.Status,
		t.ParentTicketID, t.BlockedByTicketIDs, t.Tags, embeddingRaw,
		t.IsResolved, t.ResolvedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating ticket %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendTicketAuditEventTx is AppendTicketAuditEvent's transaction-scoped
// form, used alongside UpdateTicketTx in the resolve-and-cascade-unblock
// transaction.
func AppendTicketAuditEventTx(ctx context.Context, tx pgx.Tx, e *models.TicketAuditEvent) error {
	e.CreatedAt = time.Now()
	_, err := tx.Exec(ctx, `
		INSERT INTO ticket_audit_events (id, ticket_id, type, detail, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		e.ID, e.TicketID, e.Type, e.Detail, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting ticket audit event: %w", err)
	}
	return nil
}

// ResolveTicketAndUnblock persists t's resolution together with every
// dependent ticket's already-mutated BlockedByTicketIDs in one transaction,
// writing the "resolved" and "unblocked" audit events alongside (spec §5:
// "state transitions happen inside a single transaction each"; §1, §8
// invariant 8: resolution "atomically unblocks the transitive closure").
func (s *Store) ResolveTicketAndUnblock(ctx context.Context, t *models.Ticket, dependents []*models.Ticket) error {
	return s.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := UpdateTicketTx(ctx, tx, t); err != nil {
			return fmt.Errorf("resolving ticket %s: %w", t.ID, err)
		}
		if err := AppendTicketAuditEventTx(ctx, tx, &models.TicketAuditEvent{
			ID: uuid.NewString(), TicketID: t.ID, Type: models.TicketAuditEventResolved, Detail: "ticket resolved",
		}); err != nil {
			return fmt.Errorf("recording resolve audit for ticket %s: %w", t.ID, err)
		}

		for _, dep := range dependents {
			if err := UpdateTicketTx(ctx, tx, dep); err != nil {
				return fmt.Errorf("unblocking dependent ticket %s: %w", dep.ID, err)
			}
			if len(dep.BlockedByTicketIDs) == 0 {
				if err := AppendTicketAuditEventTx(ctx, tx, &models.TicketAuditEvent{
					ID: uuid.NewString(), TicketID: dep.ID, Type: models.TicketAuditEventUnblocked,
					Detail: fmt.Sprintf("unblocked by resolution of %s", t.ID),
				}); err != nil {
					return fmt.Errorf("recording unblock audit for ticket %s: %w", dep.ID, err)
				}
			}
		}
		return nil
	})
}

// ListTicketsByWorkflow returns the tickets of a workflow, optionally
// filtered to a single status column.
func (s *Store) ListTicketsByWorkflow(ctx context.Context, workflowID string, status *string) ([]*models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+ticketColumns+` FROM tickets
		WHERE workflow_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at ASC`, workflowID, status)
	if err != nil {
		return nil, fmt.Errorf("listing tickets by workflow: %w", err)
	}
	defer rows.Close()

	var out []*models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ticket row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListBlockedTickets returns every ticket with a non-empty blocker list, the
// input set for the resolve-cascade-unblock sweep (spec §4.2).
func (s *Store) ListBlockedTickets(ctx context.Context, workflowID string) ([]*models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+ticketColumns+` FROM tickets
		WHERE workflow_id = $1 AND array_length(blocked_by_ticket_ids, 1) > 0
		ORDER BY created_at ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("listing blocked tickets: %w", err)
	}
	defer rows.Close()

	var out []*models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ticket row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SearchTicketsByKeyword runs the tsvector full-text fallback used when
// VectorIndex is unavailable (spec §4.3, §7).
func (s *Store) SearchTicketsByKeyword(ctx context.Context, workflowID, query string, limit int) ([]*models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE workflow_id = $1 AND fts @@ plainto_tsquery('english', $2)
		ORDER BY ts_rank(fts, plainto_tsquery('english', $2)) DESC
		LIMIT $3`, workflowID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching tickets by keyword: %w", err)
	}
	defer rows.Close()

	var out []*models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ticket row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateTicketComment appends a comment to a ticket's thread.
func (s *Store) CreateTicketComment(ctx context.Context, c *models.TicketComment) error {
	c.CreatedAt = time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ticket_comments (id, ticket_id, author_id, body, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		c.ID, c.TicketID, c.AuthorID, c.Body, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting ticket comment: %w", err)
	}
	return nil
}

// ListTicketComments returns a ticket's comment thread in arrival order.
func (s *Store) ListTicketComments(ctx context.Context, ticketID string) ([]*models.TicketComment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, ticket_id, author_id, body, created_at FROM ticket_comments
		WHERE ticket_id = $1 ORDER BY created_at ASC`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("listing ticket comments: %w", err)
	}
	defer rows.Close()

	var out []*models.TicketComment
	for rows.Next() {
		var c models.TicketComment
		if err := rows.Scan(&c.ID, &c.TicketID, &c.AuthorID, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning ticket comment row: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// CreateTicketCommitLink records a commit auto-linked to a ticket on
// successful task validation (spec §4.10).
func (s *Store) CreateTicketCommitLink(ctx context.Context, l *models.TicketCommitLink) error {
	l.CreatedAt = time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ticket_commit_links (id, ticket_id, commit_sha, task_id, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		l.ID, l.TicketID, l.CommitSHA, l.TaskID, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting ticket commit link: %w", err)
	}
	return nil
}

// AppendTicketAuditEvent inserts an append-only audit row for a ticket state
// change, including the "unblocked" events invariant 8 (§8) requires.
func (s *Store) AppendTicketAuditEvent(ctx context.Context, e *models.TicketAuditEvent) error {
	e.CreatedAt = time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ticket_audit_events (id, ticket_id, type, detail, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		e.ID, e.TicketID, e.Type, e.Detail, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting ticket audit event: %w", err)
	}
	return nil
}

// ListTicketAuditEvents returns a ticket's audit trail in arrival order.
func (s *Store) ListTicketAuditEvents(ctx context.Context, ticketID string) ([]*models.TicketAuditEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, ticket_id, type, detail, created_at FROM ticket_audit_events
		WHERE ticket_id = $1 ORDER BY created_at ASC`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("listing ticket audit events: %w", err)
	}
	defer rows.Close()

	var out []*models.TicketAuditEvent
	for rows.Next() {
		var e models.TicketAuditEvent
		if err := rows.Scan(&e.ID, &e.TicketID, &e.Type, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning ticket audit event row: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
