package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"nixo.app/triage/common/vector"
	"nixo.app/triage/core/db"
	"nixo.app/triage/internal/model"
)

const ticketColumns = `t.id, t.title, t.category, t.status, t.priority, t.canonical_key,
	t.embedding, t.summary_embedding, t.assignees, t.reporter_id,
	t.reporter_name, t.summary, t.created_at, t.updated_at`

type ticketStore struct {
	db db.DBTX
}

func newTicketStore(conn db.DBTX) TicketStore {
	return &ticketStore{db: conn}
}

func (s *ticketStore) GetByID(ctx context.Context, id int64) (*model.Ticket, error) {
	row := s.db.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets t WHERE t.id = $1`, id)
	return scanTicket(row)
}

func (s *ticketStore) FindOpenByThread(ctx context.Context, channelID, threadTS string) (*model.Ticket, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets t
		WHERE t.status = 'open'
		  AND EXISTS (
		      SELECT 1 FROM messages m
		      WHERE m.ticket_id = t.id AND m.channel_id = $1 AND m.thread_ts = $2
		  )
		ORDER BY t.updated_at DESC
		LIMIT 1`, channelID, threadTS)
	return scanTicket(row)
}

func (s *ticketStore) FindOpenByCanonicalKey(ctx context.Context, key string) (*model.Ticket, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets t
		WHERE t.status = 'open' AND t.canonical_key = $1
		ORDER BY t.updated_at DESC
		LIMIT 1`, key)
	return scanTicket(row)
}

// The CASE keeps <=> away from vectors of another dimension, which pgvector rejects.
func (s *ticketStore) FindNearestOpenByEmbedding(ctx context.Context, q EmbeddingQuery) (*model.TicketCandidate, error) {
	if len(q.Vector) == 0 {
		return nil, ErrNotFound
	}
	row := s.db.QueryRow(ctx, `
		SELECT id, category, updated_at, canonical_key, distance
		FROM (
		    SELECT t.id, t.category, t.updated_at, t.canonical_key,
		           CASE WHEN vector_dims(t.embedding) = $2 THEN t.embedding <=> $1 END AS distance
		    FROM tickets t
		    WHERE t.status = 'open' AND t.embedding IS NOT NULL AND t.updated_at >= $3
		) c
		WHERE distance IS NOT NULL AND distance <= $4
		ORDER BY distance
		LIMIT 1`, pgvector.NewVector(q.Vector), len(q.Vector), q.Since, q.MaxDistance)

	var c model.TicketCandidate
	var category string
	if err := row.Scan(&c.TicketID, &category, &c.UpdatedAt, &c.CanonicalKey, &c.Distance); err != nil {
		return nil, translate(err)
	}
	c.Category = model.Category(category)
	return &c, nil
}

func (s *ticketStore) FindMostRecentOpenInChannel(ctx context.Context, channelID string, since time.Time) (*model.Ticket, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets t
		WHERE t.status = 'open'
		  AND EXISTS (
		      SELECT 1 FROM messages m
		      WHERE m.ticket_id = t.id AND m.channel_id = $1 AND m.created_at >= $2
		  )
		ORDER BY t.updated_at DESC
		LIMIT 1`, channelID, since)
	return scanTicket(row)
}

func (s *ticketStore) List(ctx context.Context, status *model.TicketStatus, limit int) ([]model.Ticket, error) {
	var statusArg *string
	if status != nil {
		v := string(*status)
		statusArg = &v
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets t
		WHERE $1::text IS NULL OR t.status = $1
		ORDER BY t.updated_at DESC
		LIMIT $2`, statusArg, limitArg(limit))
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
	row := s.db.QueryRow(ctx, `
		INSERT INTO tickets AS t (
		    id, title, category, status, priority, canonical_key, embedding,
		    summary_embedding, assignees, reporter_id, reporter_name, summary,
		    created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+ticketColumns,
		t.ID, t.Title, string(t.Category), string(t.Status), string(model.MaxPriority(t.Summary.Priority)),
		t.CanonicalKey, vector.Nullable(t.Embedding), vector.Nullable(t.SummaryEmbedding),
		nonNil(t.Assignees), t.ReporterID, t.ReporterName, summaryJSON, t.CreatedAt, t.UpdatedAt)
	return scanTicket(row)
}

func (s *ticketStore) UpdateSummary(ctx context.Context, id int64, summary model.TicketSummary, assignees []string, summaryEmbedding []float32) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE tickets
		SET summary = $2,
		    priority = $3,
		    assignees = $4,
		    summary_embedding = COALESCE($5, summary_embedding)
		WHERE id = $1`,
		id, summaryJSON, string(model.MaxPriority(summary.Priority)), nonNil(assignees), vector.Nullable(summaryEmbedding))
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ticketStore) UpdateCategory(ctx context.Context, id int64, category model.Category) error {
	return s.exec(ctx, `UPDATE tickets SET category = $2 WHERE id = $1`, id, string(category))
}

func (s *ticketStore) UpdateStatus(ctx context.Context, id int64, status model.TicketStatus) error {
	return s.exec(ctx, `UPDATE tickets SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
}

func (s *ticketStore) Touch(ctx context.Context, id int64, at time.Time) error {
	return s.exec(ctx, `UPDATE tickets SET updated_at = $2 WHERE id = $1`, id, at)
}

func (s *ticketStore) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTicket(row scanner) (*model.Ticket, error) {
	var (
		t                           model.Ticket
		category, status, priority  string
		embedding, summaryEmbedding *pgvector.Vector
		summaryJSON                 []byte
	)
	err := row.Scan(
		&t.ID, &t.Title, &category, &status, &priority, &t.CanonicalKey,
		&embedding, &summaryEmbedding, &t.Assignees, &t.ReporterID,
		&t.ReporterName, &summaryJSON, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}

	t.Category = model.Category(category)
	t.Status = model.TicketStatus(status)

	if len(summaryJSON) > 0 {
		if err := json.Unmarshal(summaryJSON, &t.Summary); err != nil {
			return nil, fmt.Errorf("decoding summary of ticket %d: %w", t.ID, err)
		}
	}
	t.Summary.Priority = model.Priority(priority)

	t.Embedding = vector.Slice(embedding)
	t.SummaryEmbedding = vector.Slice(summaryEmbedding)
	return &t, nil
}
