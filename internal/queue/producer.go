package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

type Producer interface {
	// Enqueue appends the task to the stream and returns the stream message id.
	Enqueue(ctx context.Context, task Task) (string, error)
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, task Task) (string, error) {
	fields, err := task.Values()
	if err != nil {
		return "", err
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue message: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued chat message",
		"stream_message_id", id,
		"channel_id", task.Message.ChannelID,
		"ts", task.Message.TS,
		"attempt", fields["attempt"])
	return id, nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
