package store

import (
	"context"
	"errors"
	"time"

	"nixo.app/triage/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a uniqueness constraint, e.g. a second
// open ticket with the same canonical key.
var ErrConflict = errors.New("conflict")

// EmbeddingQuery selects the single nearest open-ticket match for a vector.
type EmbeddingQuery struct {
	Vector      []float32
	Since       time.Time // lookback window start
	MaxDistance float64   // cosine distance; matches farther away are ErrNotFound
}

// TicketStore defines the contract for ticket data access. Finders return ErrNotFound
// when nothing matches.
type TicketStore interface {
	GetByID(ctx context.Context, id int64) (*model.Ticket, error)
	// FindOpenByThread returns the open ticket holding a message of that thread.
	FindOpenByThread(ctx context.Context, channelID, threadTS string) (*model.Ticket, error)
	FindOpenByCanonicalKey(ctx context.Context, key string) (*model.Ticket, error)
	// FindNearestOpenByEmbedding searches ticket embeddings of tickets updated since q.Since.
	// Tickets whose embedding has a different dimension are ignored.
	FindNearestOpenByEmbedding(ctx context.Context, q EmbeddingQuery) (*model.TicketCandidate, error)
	// FindMostRecentOpenInChannel returns the most recently updated open ticket with a
	// message posted in channelID since the given time.
	FindMostRecentOpenInChannel(ctx context.Context, channelID string, since time.Time) (*model.Ticket, error)
	List(ctx context.Context, status *model.TicketStatus, limit int) ([]model.Ticket, error)
	Create(ctx context.Context, ticket *model.Ticket) (*model.Ticket, error)
	// UpdateSummary replaces summary, priority and assignees. A nil summaryEmbedding keeps
	// the stored one.
	UpdateSummary(ctx context.Context, id int64, summary model.TicketSummary, assignees []string, summaryEmbedding []float32) error
	UpdateCategory(ctx context.Context, id int64, category model.Category) error
	UpdateStatus(ctx context.Context, id int64, status model.TicketStatus) error
	// Touch bumps updated_at; called for every attached message.
	Touch(ctx context.Context, id int64, at time.Time) error
}

// MessageStore defines the contract for message data access.
type MessageStore interface {
	Attach(ctx context.Context, msg *model.Message) (*model.Message, error)
	// FindNearestOpenTicketByEmbedding searches message embeddings posted since q.Since
	// whose ticket is still open.
	FindNearestOpenTicketByEmbedding(ctx context.Context, q EmbeddingQuery) (*model.TicketCandidate, error)
	// ListByTicket returns the latest limit messages of a ticket, oldest first. A limit
	// of zero or less returns every message.
	ListByTicket(ctx context.Context, ticketID int64, limit int) ([]model.Message, error)
}

// Provider exposes the stores the triage core works with.
type Provider interface {
	Tickets() TicketStore
	Messages() MessageStore
}

// TxRunner runs functions within a transaction and provides stores bound to that transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores Provider) error) error
}
