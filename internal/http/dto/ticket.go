package dto

import (
	"strconv"
	"time"

	"nixo.app/triage/internal/model"
)

type TicketResponse struct {
	ID           string              `json:"id"`
	Title        string              `json:"title"`
	Category     string              `json:"category"`
	Status       string              `json:"status"`
	Priority     string              `json:"priority"`
	CanonicalKey *string             `json:"canonical_key,omitempty"`
	Assignees    []string            `json:"assignees"`
	ReporterName *string             `json:"reporter_name,omitempty"`
	Summary      model.TicketSummary `json:"summary"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

type MessageResponse struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channel_id"`
	TS          string    `json:"ts"`
	ThreadTS    string    `json:"thread_ts"`
	Author      string    `json:"author"`
	Text        string    `json:"text"`
	Permalink   *string   `json:"permalink,omitempty"`
	ContextOnly bool      `json:"context_only"`
	Category    string    `json:"category"`
	CreatedAt   time.Time `json:"created_at"`
}

type TicketDetailResponse struct {
	Ticket   TicketResponse    `json:"ticket"`
	Messages []MessageResponse `json:"messages"`
}

type UpdateTicketStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=open resolved closed"`
}

// NewTicketResponse renders IDs as strings: snowflakes exceed the integer range
// JavaScript clients can represent.
func NewTicketResponse(t model.Ticket) TicketResponse {
	assignees := t.Assignees
	if assignees == nil {
		assignees = []string{}
	}
	return TicketResponse{
		ID:           strconv.FormatInt(t.ID, 10),
		Title:        t.Title,
		Category:     string(t.Category),
		Status:       string(t.Status),
		Priority:     string(t.Summary.Priority),
		CanonicalKey: t.CanonicalKey,
		Assignees:    assignees,
		ReporterName: t.ReporterName,
		Summary:      t.Summary,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func NewMessageResponse(m model.Message) MessageResponse {
	return MessageResponse{
		ID:          strconv.FormatInt(m.ID, 10),
		ChannelID:   m.ChannelID,
		TS:          m.TS,
		ThreadTS:    m.ThreadTS,
		Author:      m.Author(),
		Text:        m.Text,
		Permalink:   m.Permalink,
		ContextOnly: m.ContextOnly,
		Category:    string(m.Category),
		CreatedAt:   m.CreatedAt,
	}
}
