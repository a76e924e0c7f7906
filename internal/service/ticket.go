package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nixo.app/triage/internal/model"
	"nixo.app/triage/internal/notify"
	"nixo.app/triage/internal/store"
)

const (
	defaultTicketListLimit = 50
	maxTicketListLimit     = 200
)

var (
	ErrTicketNotFound = errors.New("ticket not found")
	ErrInvalidStatus  = errors.New("invalid ticket status")
)

type TicketDetail struct {
	Ticket   *model.Ticket
	Messages []model.Message
}

type TicketService interface {
	List(ctx context.Context, status *model.TicketStatus, limit int) ([]model.Ticket, error)
	Get(ctx context.Context, id int64, messageLimit int) (*TicketDetail, error)
	UpdateStatus(ctx context.Context, id int64, status model.TicketStatus) (*model.Ticket, error)
}

type ticketService struct {
	stores   store.Provider
	notifier notify.Notifier
	now      func() time.Time
}

func NewTicketService(stores store.Provider, notifier notify.Notifier) TicketService {
	return &ticketService{stores: stores, notifier: notifier, now: time.Now}
}

func (s *ticketService) List(ctx context.Context, status *model.TicketStatus, limit int) ([]model.Ticket, error) {
	if status != nil && !validStatus(*status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *status)
	}
	switch {
	case limit <= 0:
		limit = defaultTicketListLimit
	case limit > maxTicketListLimit:
		limit = maxTicketListLimit
	}

	tickets, err := s.stores.Tickets().List(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("listing tickets: %w", err)
	}
	if tickets == nil {
		tickets = []model.Ticket{}
	}
	return tickets, nil
}

func (s *ticketService) Get(ctx context.Context, id int64, messageLimit int) (*TicketDetail, error) {
	ticket, err := s.stores.Tickets().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("fetching ticket: %w", err)
	}

	messages, err := s.stores.Messages().ListByTicket(ctx, id, messageLimit)
	if err != nil {
		return nil, fmt.Errorf("listing ticket messages: %w", err)
	}
	if messages == nil {
		messages = []model.Message{}
	}
	return &TicketDetail{Ticket: ticket, Messages: messages}, nil
}

// UpdateStatus moves a ticket between open, resolved and closed. Once a ticket leaves
// open, new messages no longer group into it and its canonical key is free again.
func (s *ticketService) UpdateStatus(ctx context.Context, id int64, status model.TicketStatus) (*model.Ticket, error) {
	if !validStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	if err := s.stores.Tickets().UpdateStatus(ctx, id, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTicketNotFound
		}
		// Reopening collides with a newer open ticket holding the same canonical key.
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: another open ticket has the same canonical key", ErrInvalidStatus)
		}
		return nil, fmt.Errorf("updating ticket status: %w", err)
	}

	ticket, err := s.stores.Tickets().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching ticket: %w", err)
	}

	if s.notifier != nil {
		_ = s.notifier.Notify(ctx, notify.Event{TicketID: id, Step: "status", At: s.now().UTC()})
	}
	return ticket, nil
}

func validStatus(s model.TicketStatus) bool {
	switch s {
	case model.TicketStatusOpen, model.TicketStatusResolved, model.TicketStatusClosed:
		return true
	}
	return false
}
