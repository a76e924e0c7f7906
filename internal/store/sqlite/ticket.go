package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"nixo.app/triage/common/vector"
	"nixo.app/triage/internal/model"
	"nixo.app/triage/internal/store"
)

const ticketColumns = `t.id, t.title, t.category, t.status, t.priority, t.canonical_key,
	t.embedding, t.summary_embedding, t.assignees, t.reporter_id, t.reporter_name,
	t.summary, t.created_at, t.updated_at`

type ticketStore struct {
	q querier
}

func (s *ticketStore) GetByID(ctx context.Context, id int64) (*model.Ticket, error) {
	return scanTicket(s.q.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets t WHERE t.id = ?`, id))
}

func (s *ticketStore) FindOpenByThread(ctx context.Context, channelID, threadTS string) (*model.Ticket, error) {
	return scanTicket(s.q.QueryRowContext(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets t
		WHERE t.status = 'open'
		  AND EXISTS (
		      SELECT 1 FROM messages m
		      WHERE m.ticket_id = t.id AND m.channel_id = ? AND m.thread_ts = ?
		  )
		ORDER BY t.updated_at DESC
		LIMIT 1`, channelID, threadTS))
}

func (s *ticketStore) FindOpenByCanonicalKey(ctx context.Context, key string) (*model.Ticket, error) {
	return scanTicket(s.q.QueryRowContext(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets t
		WHERE t.status = 'open' AND t.canonical_key = ?
		ORDER BY t.updated_at DESC
		LIMIT 1`, key))
}

func (s *ticketStore) FindNearestOpenByEmbedding(ctx context.Context, q store.EmbeddingQuery) (*model.TicketCandidate, error) {
	if len(q.Vector) == 0 {
		return nil, store.ErrNotFound
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT t.id, t.category, t.updated_at, t.canonical_key, t.embedding
		FROM tickets t
		WHERE t.status = 'open' AND t.embedding IS NOT NULL AND t.updated_at >= ?`,
		q.Since.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return nearest(rows, q, func(rows *sql.Rows) (model.TicketCandidate, pgvector.Vector, error) {
		var (
			c         model.TicketCandidate
			category  string
			embedding pgvector.Vector
			updatedAt int64
		)
		err := rows.Scan(&c.TicketID, &category, &updatedAt, &c.CanonicalKey, &embedding)
		c.Category = model.Category(category)
		c.UpdatedAt = fromNanos(updatedAt)
		return c, embedding, err
	})
}

func (s *ticketStore) FindMostRecentOpenInChannel(ctx context.Context, channelID string, since time.Time) (*model.Ticket, error) {
	return scanTicket(s.q.QueryRowContext(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets t
		WHERE t.status = 'open'
		  AND EXISTS (
		      SELECT 1 FROM messages m
		      WHERE m.ticket_id = t.id AND m.channel_id = ? AND m.created_at >= ?
		  )
		ORDER BY t.updated_at DESC
		LIMIT 1`, channelID, since.UnixNano()))
}

func (s *ticketStore) List(ctx context.Context, status *model.TicketStatus, limit int) ([]model.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets t`
	var args []any
	if status != nil {
		query += ` WHERE t.status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY t.updated_at DESC LIMIT ?`
	args = append(args, limitArg(limit))

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *ticketStore) Create(ctx context.Context, t *model.Ticket) (*model.Ticket, error) {
	summaryJSON, err := json.Marshal(t.Summary)
	if err != nil {
		return nil, fmt.Errorf("marshaling summary: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO tickets (
		    id, title, category, status, priority, canonical_key, embedding,
		    summary_embedding, assignees, reporter_id, reporter_name, summary,
		    created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, string(t.Category), string(t.Status), string(model.MaxPriority(t.Summary.Priority)),
		t.CanonicalKey, vector.Nullable(t.Embedding), vector.Nullable(t.SummaryEmbedding),
		jsonList(t.Assignees), t.ReporterID, t.ReporterName, string(summaryJSON),
		t.CreatedAt.UnixNano(), t.UpdatedAt.UnixNano())
	if err != nil {
		return nil, translate(err)
	}
	return s.GetByID(ctx, t.ID)
}

func (s *ticketStore) UpdateSummary(ctx context.Context, id int64, summary model.TicketSummary, assignees []string, summaryEmbedding []float32) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	return s.exec(ctx, `
		UPDATE tickets
		SET summary = ?,
		    priority = ?,
		    assignees = ?,
		    summary_embedding = COALESCE(?, summary_embedding)
		WHERE id = ?`,
		string(summaryJSON), string(model.MaxPriority(summary.Priority)), jsonList(assignees),
		vector.Nullable(summaryEmbedding), id)
}

func (s *ticketStore) UpdateCategory(ctx context.Context, id int64, category model.Category) error {
	return s.exec(ctx, `UPDATE tickets SET category = ? WHERE id = ?`, string(category), id)
}

func (s *ticketStore) UpdateStatus(ctx context.Context, id int64, status model.TicketStatus) error {
	return s.exec(ctx, `UPDATE tickets SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UnixNano(), id)
}

func (s *ticketStore) Touch(ctx context.Context, id int64, at time.Time) error {
	return s.exec(ctx, `UPDATE tickets SET updated_at = ? WHERE id = ?`, at.UnixNano(), id)
}

func (s *ticketStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*model.Ticket, error) {
	var (
		t                           model.Ticket
		category, status, priority  string
		embedding, summaryEmbedding *pgvector.Vector
		assignees, summaryJSON      string
		createdAt, updatedAt        int64
	)
	err := row.Scan(
		&t.ID, &t.Title, &category, &status, &priority, &t.CanonicalKey,
		&embedding, &summaryEmbedding, &assignees, &t.ReporterID, &t.ReporterName,
		&summaryJSON, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}

	t.Category = model.Category(category)
	t.Status = model.TicketStatus(status)
	t.CreatedAt = fromNanos(createdAt)
	t.UpdatedAt = fromNanos(updatedAt)

	if err := json.Unmarshal([]byte(assignees), &t.Assignees); err != nil {
		return nil, fmt.Errorf("decoding assignees of ticket %d: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(summaryJSON), &t.Summary); err != nil {
		return nil, fmt.Errorf("decoding summary of ticket %d: %w", t.ID, err)
	}
	t.Summary.Priority = model.Priority(priority)

	t.Embedding = vector.Slice(embedding)
	t.SummaryEmbedding = vector.Slice(summaryEmbedding)
	return &t, nil
}

// nearest scans candidate rows and keeps the closest one within q.MaxDistance. Rows
// whose vector has another dimension are skipped.
func nearest(rows *sql.Rows, q store.EmbeddingQuery, scan func(*sql.Rows) (model.TicketCandidate, pgvector.Vector, error)) (*model.TicketCandidate, error) {
	var best *model.TicketCandidate
	for rows.Next() {
		c, v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning candidate: %w", err)
		}
		d, ok := vector.CosineDistance(q.Vector, v.Slice())
		if !ok || d > q.MaxDistance {
			continue
		}
		if best == nil || d < best.Distance {
			c.Distance = d
			best = &c
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return best, nil
}

func jsonList(s []string) string {
	if len(s) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(s)
	return string(b)
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
