package model

import "time"

// IncomingMessage is a chat message as delivered by the ingestion endpoint.
// It is never mutated after it has been accepted.
type IncomingMessage struct {
	ChannelID     string  `json:"channel_id"`
	TS            string  `json:"ts"`
	ThreadTS      string  `json:"thread_ts"` // thread root, or TS itself for top-level messages
	UserID        string  `json:"user_id"`
	UserName      *string `json:"user_name,omitempty"`
	WorkspaceID   *string `json:"workspace_id,omitempty"`
	SourceEventID *string `json:"source_event_id,omitempty"`
	Text          string  `json:"text"`
	Permalink     *string `json:"permalink,omitempty"`
	ContextOnly   bool    `json:"context_only,omitempty"`
}

// IsThreadReply reports whether the message was posted inside an existing thread.
func (m IncomingMessage) IsThreadReply() bool {
	return m.ThreadTS != "" && m.ThreadTS != m.TS
}

// RootThread returns the thread root token, defaulting to the message's own TS.
func (m IncomingMessage) RootThread() string {
	if m.ThreadTS == "" {
		return m.TS
	}
	return m.ThreadTS
}

// Message is a persisted chat message. Every row belongs to exactly one ticket.
type Message struct {
	ID            int64     `json:"id"`
	TicketID      int64     `json:"ticket_id"`
	ChannelID     string    `json:"channel_id"`
	TS            string    `json:"ts"`
	ThreadTS      string    `json:"thread_ts"`
	UserID        string    `json:"user_id"`
	UserName      *string   `json:"user_name,omitempty"`
	WorkspaceID   *string   `json:"workspace_id,omitempty"`
	SourceEventID *string   `json:"source_event_id,omitempty"`
	Text          string    `json:"text"`
	Permalink     *string   `json:"permalink,omitempty"`
	ContextOnly   bool      `json:"is_context_only"`
	IsRelevant    bool      `json:"is_relevant"`
	Category      Category  `json:"category"`
	Confidence    float64   `json:"confidence"`
	Signals       []string  `json:"signals"`
	CanonicalKey  *string   `json:"canonical_key,omitempty"`
	Embedding     []float32 `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// Author returns the display name when known, otherwise the user id.
func (m Message) Author() string {
	if m.UserName != nil && *m.UserName != "" {
		return *m.UserName
	}
	return m.UserID
}
