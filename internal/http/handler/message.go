package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"nixo.app/triage/internal/http/dto"
	"nixo.app/triage/internal/service"
)

type MessageHandler struct {
	service     service.MessageIngestService
	traceHeader string
}

func NewMessageHandler(service service.MessageIngestService, traceHeader string) *MessageHandler {
	return &MessageHandler{
		service:     service,
		traceHeader: traceHeader,
	}
}

func (h *MessageHandler) Ingest(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.IngestMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid ingest request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	traceID := c.GetHeader(h.traceHeader)
	if traceID == "" {
		if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
			traceID = spanCtx.TraceID().String()
		}
	}
	params := service.MessageIngestParams{
		ChannelID:     req.ChannelID,
		TS:            req.TS,
		ThreadTS:      req.ThreadTS,
		UserID:        req.UserID,
		UserName:      req.UserName,
		WorkspaceID:   req.WorkspaceID,
		SourceEventID: req.SourceEventID,
		Text:          req.Text,
		Permalink:     req.Permalink,
	}
	if traceID != "" {
		params.TraceID = &traceID
	}

	result, err := h.service.Ingest(ctx, params)
	if err != nil {
		if errors.Is(err, service.ErrInvalidMessage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.ErrorContext(ctx, "failed to ingest message", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ingest message"})
		return
	}

	status := http.StatusAccepted
	if result.Duplicated {
		status = http.StatusOK
	}
	c.JSON(status, dto.IngestMessageResponse{
		DedupeKey:       result.DedupeKey,
		StreamMessageID: result.StreamMessageID,
		ContextOnly:     result.ContextOnly,
		Enqueued:        result.Enqueued,
		Duplicated:      result.Duplicated,
	})
}
