package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"nixo.app/triage/common/logger"
	"nixo.app/triage/internal/queue"
)

type Config struct {
	// Concurrency caps how many messages of a batch are in flight at once. Grouping is
	// serialized further down; this bounds classification fan-out.
	Concurrency  int
	ErrorBackoff time.Duration
}

type Worker struct {
	consumer  Consumer
	processor MessageProcessor
	cfg       Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, processor MessageProcessor, cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	return &Worker{
		consumer:  consumer,
		processor: processor,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "triage.worker",
	})
	slog.InfoContext(ctx, "worker started", "concurrency", w.cfg.Concurrency)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				select {
				case <-time.After(w.cfg.ErrorBackoff):
				case <-ctx.Done():
				case <-w.stopCh:
				}
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)
	for _, msg := range messages {
		g.Go(func() error {
			// Failures are logged inside; one bad message never fails the batch.
			_ = w.ProcessMessage(ctx, msg)
			return nil
		})
	}
	return g.Wait()
}

// ProcessMessage runs one stream message through the pipeline and acknowledges it.
// Failures are terminal per message: they are logged and the message is still
// acknowledged. Exported so it can be reused by the reclaimer.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		StreamMessageID: logger.Ptr(msg.ID),
		ChannelID:       logger.Ptr(msg.Incoming.ChannelID),
		MessageTS:       logger.Ptr(msg.Incoming.TS),
		SourceEventID:   msg.Incoming.SourceEventID,
		WorkspaceID:     msg.Incoming.WorkspaceID,
	})

	sp := logger.ContinueTrace(ctx, msg.TraceID, "worker.process_message",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.Int("messaging.attempt", msg.Attempt)))
	defer sp.End()
	ctx = sp.Context()

	start := time.Now()
	err := w.processSafe(ctx, msg)
	if err != nil {
		sp.Fail(err)
		slog.ErrorContext(ctx, "message processing failed",
			"error", err,
			"attempt", msg.Attempt,
			"duration_ms", time.Since(start).Milliseconds())
	}

	if ackErr := w.consumer.Ack(ctx, msg); ackErr != nil {
		// The reclaimer redelivers it; messages are unique per (channel, ts) so it cannot attach twice.
		slog.WarnContext(ctx, "failed to ACK message", "error", ackErr)
	}
	return err
}

func (w *Worker) processSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing",
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	res, err := w.processor.Process(ctx, msg.Incoming)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "message handled", "outcome", res.Outcome)
	return nil
}
