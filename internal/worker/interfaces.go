package worker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"nixo.app/triage/internal/model"
	"nixo.app/triage/internal/pipeline"
	"nixo.app/triage/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
}

// StaleClaimer hands over messages another consumer read but never acknowledged.
type StaleClaimer interface {
	ReclaimStale(ctx context.Context, minIdle time.Duration, count int64) ([]redis.XMessage, error)
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// MessageProcessor abstracts the pipeline for testability.
type MessageProcessor interface {
	Process(ctx context.Context, msg model.IncomingMessage) (pipeline.Result, error)
}
