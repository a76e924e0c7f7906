package service

import (
	"log/slog"

	"nixo.app/triage/internal/notify"
	"nixo.app/triage/internal/queue"
	"nixo.app/triage/internal/store"
)

type ServicesConfig struct {
	Stores   store.Provider
	Producer queue.Producer
	Deduper  Deduper
	Notifier notify.Notifier
	Ingest   MessageIngestConfig
	Logger   *slog.Logger
}

type Services struct {
	cfg ServicesConfig
}

func NewServices(cfg ServicesConfig) *Services {
	return &Services{cfg: cfg}
}

func (s *Services) MessageIngest() MessageIngestService {
	return NewMessageIngestService(s.cfg.Producer, s.cfg.Deduper, s.cfg.Ingest, s.cfg.Logger)
}

func (s *Services) Tickets() TicketService {
	return NewTicketService(s.cfg.Stores, s.cfg.Notifier)
}
