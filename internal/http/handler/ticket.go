package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"nixo.app/triage/internal/http/dto"
	"nixo.app/triage/internal/model"
	"nixo.app/triage/internal/service"
)

const defaultMessageLimit = 20

type TicketHandler struct {
	service service.TicketService
}

func NewTicketHandler(service service.TicketService) *TicketHandler {
	return &TicketHandler{service: service}
}

func (h *TicketHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	var status *model.TicketStatus
	if s := c.Query("status"); s != "" {
		st := model.TicketStatus(s)
		status = &st
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	tickets, err := h.service.List(ctx, status, limit)
	if err != nil {
		if errors.Is(err, service.ErrInvalidStatus) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.ErrorContext(ctx, "failed to list tickets", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tickets"})
		return
	}

	out := make([]dto.TicketResponse, len(tickets))
	for i, t := range tickets {
		out[i] = dto.NewTicketResponse(t)
	}
	c.JSON(http.StatusOK, gin.H{"tickets": out})
}

func (h *TicketHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return
	}
	limit, err := queryInt(c, "messages", defaultMessageLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid messages limit"})
		return
	}

	detail, err := h.service.Get(ctx, id, limit)
	if err != nil {
		if errors.Is(err, service.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to fetch ticket", "error", err, "ticket_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch ticket"})
		return
	}

	messages := make([]dto.MessageResponse, len(detail.Messages))
	for i, m := range detail.Messages {
		messages[i] = dto.NewMessageResponse(m)
	}
	c.JSON(http.StatusOK, dto.TicketDetailResponse{
		Ticket:   dto.NewTicketResponse(*detail.Ticket),
		Messages: messages,
	})
}

func (h *TicketHandler) UpdateStatus(c *gin.Context) {
	ctx := c.Request.Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return
	}

	var req dto.UpdateTicketStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ticket, err := h.service.UpdateStatus(ctx, id, model.TicketStatus(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTicketNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
		case errors.Is(err, service.ErrInvalidStatus):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			slog.ErrorContext(ctx, "failed to update ticket status", "error", err, "ticket_id", id)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update ticket"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.NewTicketResponse(*ticket))
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
