package store

import (
	"context"
	"github.com/pgvector/pgvector-go"

	"nixo.app/triage/common/vector"
	"nixo.app/triage/core/db"
	"nixo.app/triage/internal/model"
)

const messageColumns = `m.id, m.ticket_id, m.channel_id, m.ts, m.thread_ts, m.user_id,
	m.user_name, m.workspace_id, m.source_event_id, m.text, m.permalink,
	m.is_context_only, m.is_relevant, m.category, m.confidence, m.signals,
	m.canonical_key, m.embedding, m.created_at`

type messageStore struct {
	db db.DBTX
}

func newMessageStore(conn db.DBTX) MessageStore {
	return &messageStore{db: conn}
}

func (s *messageStore) Attach(ctx context.Context, msg *model.Message) (*model.Message, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO messages AS m (
		    id, ticket_id, channel_id, ts, thread_ts, user_id, user_name, workspace_id,
		    source_event_id, text, permalink, is_context_only, is_relevant, category,
		    confidence, signals, canonical_key, embedding, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING `+messageColumns,
		msg.ID, msg.TicketID, msg.ChannelID, msg.TS, msg.ThreadTS, msg.UserID, msg.UserName,
		msg.WorkspaceID, msg.SourceEventID, msg.Text, msg.Permalink, msg.ContextOnly,
		msg.IsRelevant, string(msg.Category), msg.Confidence, nonNil(msg.Signals),
		msg.CanonicalKey, vector.Nullable(msg.Embedding), msg.CreatedAt)
	return scanMessage(row)
}

func (s *messageStore) FindNearestOpenTicketByEmbedding(ctx context.Context, q EmbeddingQuery) (*model.TicketCandidate, error) {
	if len(q.Vector) == 0 {
		return nil, ErrNotFound
	}
	row := s.db.QueryRow(ctx, `
		SELECT ticket_id, category, updated_at, canonical_key, channel_id, distance
		FROM (
		    SELECT t.id AS ticket_id, t.category, t.updated_at, t.canonical_key, m.channel_id,
		           CASE WHEN vector_dims(m.embedding) = $2 THEN m.embedding <=> $1 END AS distance
		    FROM messages m
		    JOIN tickets t ON t.id = m.ticket_id
		    WHERE t.status = 'open' AND m.embedding IS NOT NULL AND m.created_at >= $3
		) c
		WHERE distance IS NOT NULL AND distance <= $4
		ORDER BY distance
		LIMIT 1`, pgvector.NewVector(q.Vector), len(q.Vector), q.Since, q.MaxDistance)

	var c model.TicketCandidate
	var category string
	if err := row.Scan(&c.TicketID, &category, &c.UpdatedAt, &c.CanonicalKey, &c.ChannelID, &c.Distance); err != nil {
		return nil, translate(err)
	}
	c.Category = model.Category(category)
	return &c, nil
}

func (s *messageStore) ListByTicket(ctx context.Context, ticketID int64, limit int) ([]model.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT * FROM (
		    SELECT `+messageColumns+`
		    FROM messages m
		    WHERE m.ticket_id = $1
		    ORDER BY m.created_at DESC, m.id DESC
		    LIMIT $2
		) recent
		ORDER BY created_at, id`, ticketID, limitArg(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanMessage(row scanner) (*model.Message, error) {
	var (
		m         model.Message
		category  string
		embedding *pgvector.Vector
	)
	err := row.Scan(
		&m.ID, &m.TicketID, &m.ChannelID, &m.TS, &m.ThreadTS, &m.UserID,
		&m.UserName, &m.WorkspaceID, &m.SourceEventID, &m.Text, &m.Permalink,
		&m.ContextOnly, &m.IsRelevant, &category, &m.Confidence, &m.Signals,
		&m.CanonicalKey, &embedding, &m.CreatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	m.Category = model.Category(category)
	m.Embedding = vector.Slice(embedding)
	return &m, nil
}
