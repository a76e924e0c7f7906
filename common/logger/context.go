package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// The worker sets the message coordinates once per stream message and the grouper adds
// the ticket id as soon as one is resolved, so every log line below carries them.
type LogFields struct {
	TicketID        *int64  // Ticket the message resolved to
	ChannelID       *string // Chat channel id
	MessageTS       *string // Chat message timestamp token
	SourceEventID   *string // Upstream event id (chat platform delivery id)
	StreamMessageID *string // Redis stream message ID
	WorkspaceID     *string // Chat workspace / tenant id
	Component       string  // Component name (OTel semantic convention style, e.g., "triage.grouping")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.TicketID != nil {
		result.TicketID = new.TicketID
	}
	if new.ChannelID != nil {
		result.ChannelID = new.ChannelID
	}
	if new.MessageTS != nil {
		result.MessageTS = new.MessageTS
	}
	if new.SourceEventID != nil {
		result.SourceEventID = new.SourceEventID
	}
	if new.StreamMessageID != nil {
		result.StreamMessageID = new.StreamMessageID
	}
	if new.WorkspaceID != nil {
		result.WorkspaceID = new.WorkspaceID
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{TicketID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen bytes, appending "..." if truncated.
// Message text is logged through this so a pasted stack trace can't flood the logs.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
