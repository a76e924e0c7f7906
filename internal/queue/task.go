package queue

import (
	"encoding/json"
	"fmt"

	"nixo.app/triage/internal/model"
)

// Task is one accepted chat message on its way to the grouping worker.
type Task struct {
	Message   model.IncomingMessage
	DedupeKey string
	TraceID   string
	Attempt   int
}

// Values encodes the task as stream fields. The message travels as a single JSON field
// so optional attributes survive the round trip unchanged.
func (t Task) Values() (map[string]any, error) {
	payload, err := json.Marshal(t.Message)
	if err != nil {
		return nil, fmt.Errorf("encoding message payload: %w", err)
	}

	attempt := t.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	values := map[string]any{
		"payload": string(payload),
		"attempt": attempt,
	}
	if t.DedupeKey != "" {
		values["dedupe_key"] = t.DedupeKey
	}
	if t.TraceID != "" {
		values["trace_id"] = t.TraceID
	}
	return values, nil
}
