package handler_test

import (
	"context"

	"nixo.app/triage/internal/model"
	"nixo.app/triage/internal/notify"
	"nixo.app/triage/internal/service"
)

type mockIngestService struct {
	ingestFn func(ctx context.Context, params service.MessageIngestParams) (*service.MessageIngestResult, error)
}

func (m *mockIngestService) Ingest(ctx context.Context, params service.MessageIngestParams) (*service.MessageIngestResult, error) {
	if m.ingestFn != nil {
		return m.ingestFn(ctx, params)
	}
	return &service.MessageIngestResult{Enqueued: true}, nil
}

type mockTicketService struct {
	listFn         func(ctx context.Context, status *model.TicketStatus, limit int) ([]model.Ticket, error)
	getFn          func(ctx context.Context, id int64, messageLimit int) (*service.TicketDetail, error)
	updateStatusFn func(ctx context.Context, id int64, status model.TicketStatus) (*model.Ticket, error)
}

func (m *mockTicketService) List(ctx context.Context, status *model.TicketStatus, limit int) ([]model.Ticket, error) {
	if m.listFn != nil {
		return m.listFn(ctx, status, limit)
	}
	return []model.Ticket{}, nil
}

func (m *mockTicketService) Get(ctx context.Context, id int64, messageLimit int) (*service.TicketDetail, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id, messageLimit)
	}
	return nil, service.ErrTicketNotFound
}

func (m *mockTicketService) UpdateStatus(ctx context.Context, id int64, status model.TicketStatus) (*model.Ticket, error) {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, id, status)
	}
	return &model.Ticket{ID: id, Status: status}, nil
}

type mockSubscriber struct {
	subscribeFn func(ctx context.Context) (<-chan notify.Event, error)
}

func (m *mockSubscriber) Subscribe(ctx context.Context) (<-chan notify.Event, error) {
	return m.subscribeFn(ctx)
}
