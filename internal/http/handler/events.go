package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"nixo.app/triage/internal/notify"
)

// EventSubscriber delivers ticket change notifications until ctx is done.
type EventSubscriber interface {
	Subscribe(ctx context.Context) (<-chan notify.Event, error)
}

type ticketEvent struct {
	TicketID string    `json:"ticket_id"`
	Step     string    `json:"step"`
	Created  bool      `json:"created"`
	At       time.Time `json:"at"`
}

type EventsHandler struct {
	subscriber EventSubscriber
	heartbeat  time.Duration
}

func NewEventsHandler(subscriber EventSubscriber, heartbeat time.Duration) *EventsHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &EventsHandler{subscriber: subscriber, heartbeat: heartbeat}
}

// Stream pushes "ticket.updated" server-sent events to the client until it disconnects.
func (h *EventsHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()

	events, err := h.subscriber.Subscribe(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to subscribe to ticket events", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream unavailable"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent("ticket.updated", ticketEvent{
				TicketID: strconv.FormatInt(e.TicketID, 10),
				Step:     e.Step,
				Created:  e.Created,
				At:       e.At,
			})
			c.Writer.Flush()
		case <-ticker.C:
			c.SSEvent("ping", "")
			c.Writer.Flush()
		}
	}
}
