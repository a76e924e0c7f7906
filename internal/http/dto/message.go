package dto

type IngestMessageRequest struct {
	ChannelID     string  `json:"channel_id" binding:"required"`
	TS            string  `json:"ts" binding:"required"`
	ThreadTS      string  `json:"thread_ts,omitempty"`
	UserID        string  `json:"user_id" binding:"required"`
	UserName      *string `json:"user_name,omitempty"`
	WorkspaceID   *string `json:"workspace_id,omitempty"`
	SourceEventID *string `json:"source_event_id,omitempty"`
	Text          string  `json:"text" binding:"required"`
	Permalink     *string `json:"permalink,omitempty"`
}

type IngestMessageResponse struct {
	DedupeKey       string `json:"dedupe_key"`
	StreamMessageID string `json:"stream_message_id,omitempty"`
	ContextOnly     bool   `json:"context_only"`
	Enqueued        bool   `json:"enqueued"`
	Duplicated      bool   `json:"duplicated"`
}
