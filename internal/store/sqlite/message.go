package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"nixo.app/triage/common/vector"
	"nixo.app/triage/internal/model"
	"nixo.app/triage/internal/store"
)

const messageColumns = `m.id, m.ticket_id, m.channel_id, m.ts, m.thread_ts, m.user_id,
	m.user_name, m.workspace_id, m.source_event_id, m.text, m.permalink,
	m.is_context_only, m.is_relevant, m.category, m.confidence, m.signals,
	m.canonical_key, m.embedding, m.created_at`

type messageStore struct {
	q querier
}

func (s *messageStore) Attach(ctx context.Context, msg *model.Message) (*model.Message, error) {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO messages (
		    id, ticket_id, channel_id, ts, thread_ts, user_id, user_name, workspace_id,
		    source_event_id, text, permalink, is_context_only, is_relevant, category,
		    confidence, signals, canonical_key, embedding, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.TicketID, msg.ChannelID, msg.TS, msg.ThreadTS, msg.UserID, msg.UserName,
		msg.WorkspaceID, msg.SourceEventID, msg.Text, msg.Permalink, msg.ContextOnly,
		msg.IsRelevant, string(msg.Category), msg.Confidence, jsonList(msg.Signals),
		msg.CanonicalKey, vector.Nullable(msg.Embedding), msg.CreatedAt.UnixNano())
	if err != nil {
		return nil, translate(err)
	}
	return scanMessage(s.q.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages m WHERE m.id = ?`, msg.ID))
}

func (s *messageStore) FindNearestOpenTicketByEmbedding(ctx context.Context, q store.EmbeddingQuery) (*model.TicketCandidate, error) {
	if len(q.Vector) == 0 {
		return nil, store.ErrNotFound
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT t.id, t.category, t.updated_at, t.canonical_key, m.channel_id, m.embedding
		FROM messages m
		JOIN tickets t ON t.id = m.ticket_id
		WHERE t.status = 'open' AND m.embedding IS NOT NULL AND m.created_at >= ?`,
		q.Since.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return nearest(rows, q, func(rows *sql.Rows) (model.TicketCandidate, pgvector.Vector, error) {
		var (
			c                   model.TicketCandidate
			category, channelID string
			embedding           pgvector.Vector
			updatedAt           int64
		)
		err := rows.Scan(&c.TicketID, &category, &updatedAt, &c.CanonicalKey, &channelID, &embedding)
		c.Category = model.Category(category)
		c.UpdatedAt = fromNanos(updatedAt)
		c.ChannelID = &channelID
		return c, embedding, err
	})
}

func (s *messageStore) ListByTicket(ctx context.Context, ticketID int64, limit int) ([]model.Message, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT * FROM (
		    SELECT `+messageColumns+`
		    FROM messages m
		    WHERE m.ticket_id = ?
		    ORDER BY m.created_at DESC, m.id DESC
		    LIMIT ?
		)
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

func scanMessage(row rowScanner) (*model.Message, error) {
	var (
		m                 model.Message
		category, signals string
		embedding         *pgvector.Vector
		createdAt         int64
	)
	err := row.Scan(
		&m.ID, &m.TicketID, &m.ChannelID, &m.TS, &m.ThreadTS, &m.UserID,
		&m.UserName, &m.WorkspaceID, &m.SourceEventID, &m.Text, &m.Permalink,
		&m.ContextOnly, &m.IsRelevant, &category, &m.Confidence, &signals,
		&m.CanonicalKey, &embedding, &createdAt,
	)
	if err != nil {
		return nil, translate(err)
	}

	m.Category = model.Category(category)
	m.CreatedAt = fromNanos(createdAt)
	if err := json.Unmarshal([]byte(signals), &m.Signals); err != nil {
		return nil, fmt.Errorf("decoding signals of message %d: %w", m.ID, err)
	}
	m.Embedding = vector.Slice(embedding)
	return &m, nil
}
