package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"nixo.app/triage/internal/model"
	"nixo.app/triage/internal/queue"
)

type MessageIngestParams struct {
	ChannelID     string
	TS            string
	ThreadTS      string
	UserID        string
	UserName      *string
	WorkspaceID   *string
	SourceEventID *string
	Text          string
	Permalink     *string
	TraceID       *string
}

type MessageIngestResult struct {
	DedupeKey       string
	StreamMessageID string
	ContextOnly     bool
	Enqueued        bool
	Duplicated      bool
}

type MessageIngestService interface {
	Ingest(ctx context.Context, params MessageIngestParams) (*MessageIngestResult, error)
}

var ErrInvalidMessage = errors.New("invalid message")

type MessageIngestConfig struct {
	DedupeTTL          time.Duration
	ContextOnlyUserIDs []string
}

type messageIngestService struct {
	queue   queue.Producer
	deduper Deduper
	cfg     MessageIngestConfig
	logger  *slog.Logger
}

func NewMessageIngestService(producer queue.Producer, deduper Deduper, cfg MessageIngestConfig, logger *slog.Logger) MessageIngestService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 24 * time.Hour
	}
	return &messageIngestService{
		queue:   producer,
		deduper: deduper,
		cfg:     cfg,
		logger:  logger,
	}
}

func (s *messageIngestService) Ingest(ctx context.Context, params MessageIngestParams) (*MessageIngestResult, error) {
	msg, err := s.toIncoming(params)
	if err != nil {
		return nil, err
	}

	dedupeKey := computeDedupeKey(msg)
	result := &MessageIngestResult{
		DedupeKey:   dedupeKey,
		ContextOnly: msg.ContextOnly,
	}

	first, err := s.deduper.Claim(ctx, dedupeKey, s.cfg.DedupeTTL)
	if err != nil {
		return nil, err
	}
	if !first {
		s.logger.InfoContext(ctx, "duplicate chat message deduped",
			"channel_id", msg.ChannelID, "ts", msg.TS, "dedupe_key", dedupeKey)
		result.Duplicated = true
		return result, nil
	}

	task := queue.Task{Message: msg, DedupeKey: dedupeKey, Attempt: 1}
	if params.TraceID != nil {
		task.TraceID = *params.TraceID
	}

	streamID, err := s.queue.Enqueue(ctx, task)
	if err != nil {
		// Let the platform's redelivery get through instead of losing the message.
		if relErr := s.deduper.Release(ctx, dedupeKey); relErr != nil {
			s.logger.WarnContext(ctx, "failed to release dedupe key", "error", relErr, "dedupe_key", dedupeKey)
		}
		return nil, fmt.Errorf("enqueueing message: %w", err)
	}

	result.StreamMessageID = streamID
	result.Enqueued = true
	return result, nil
}

func (s *messageIngestService) toIncoming(p MessageIngestParams) (model.IncomingMessage, error) {
	channelID := strings.TrimSpace(p.ChannelID)
	ts := strings.TrimSpace(p.TS)
	userID := strings.TrimSpace(p.UserID)
	if channelID == "" || ts == "" || userID == "" {
		return model.IncomingMessage{}, fmt.Errorf("%w: channel_id, ts and user_id are required", ErrInvalidMessage)
	}
	if strings.TrimSpace(p.Text) == "" {
		return model.IncomingMessage{}, fmt.Errorf("%w: text is empty", ErrInvalidMessage)
	}

	threadTS := strings.TrimSpace(p.ThreadTS)
	if threadTS == "" {
		threadTS = ts
	}

	return model.IncomingMessage{
		ChannelID:     channelID,
		TS:            ts,
		ThreadTS:      threadTS,
		UserID:        userID,
		UserName:      p.UserName,
		WorkspaceID:   p.WorkspaceID,
		SourceEventID: p.SourceEventID,
		Text:          p.Text,
		Permalink:     p.Permalink,
		ContextOnly:   slices.Contains(s.cfg.ContextOnlyUserIDs, userID),
	}, nil
}

// computeDedupeKey prefers the platform's event id; otherwise identical (channel, ts,
// text) deliveries collapse to one key.
func computeDedupeKey(msg model.IncomingMessage) string {
	if msg.SourceEventID != nil && *msg.SourceEventID != "" {
		return "evt:" + *msg.SourceEventID
	}

	h := sha256.New()
	h.Write([]byte(msg.ChannelID))
	h.Write([]byte{0})
	h.Write([]byte(msg.TS))
	h.Write([]byte{0})
	h.Write([]byte(msg.Text))
	return "msg:" + hex.EncodeToString(h.Sum(nil))
}
