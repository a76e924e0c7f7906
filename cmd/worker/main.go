package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"nixo.app/triage/common/id"
	"nixo.app/triage/common/llm"
	"nixo.app/triage/common/logger"
	"nixo.app/triage/common/otel"
	"nixo.app/triage/core/config"
	"nixo.app/triage/internal/cache"
	"nixo.app/triage/internal/classify"
	"nixo.app/triage/internal/grouping"
	"nixo.app/triage/internal/model"
	"nixo.app/triage/internal/notify"
	"nixo.app/triage/internal/pipeline"
	"nixo.app/triage/internal/queue"
	"nixo.app/triage/internal/sequencer"
	"nixo.app/triage/internal/store/backend"
	"nixo.app/triage/internal/summary"
	"nixo.app/triage/internal/worker"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "triage worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Pipeline.RedisGroup,
		"consumer_name", cfg.Pipeline.RedisConsumer,
		"llm_provider", cfg.LLM.Provider)

	// Different node ID than the server
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	stores, err := backend.Open(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open store", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	consumerCfg := queue.ConsumerConfig{
		Stream:    cfg.Pipeline.RedisStream,
		Group:     cfg.Pipeline.RedisGroup,
		Consumer:  cfg.Pipeline.RedisConsumer,
		DLQStream: cfg.Pipeline.RedisDLQStream,
		BatchSize: cfg.Pipeline.BatchSize,
		Block:     5 * time.Second,
	}
	consumer, err := queue.NewRedisConsumer(ctx, redisClient, consumerCfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	reclaimCfg := consumerCfg
	reclaimCfg.Consumer = cfg.Pipeline.RedisConsumer + "-reclaimer"
	reclaimConsumer, err := queue.NewRedisConsumer(ctx, redisClient, reclaimCfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create reclaim consumer", "error", err)
		os.Exit(1)
	}

	llmCfg := llm.Config{
		Provider:            cfg.LLM.Provider,
		APIKey:              cfg.LLM.APIKey,
		BaseURL:             cfg.LLM.BaseURL,
		Model:               cfg.LLM.Model,
		EmbeddingModel:      cfg.LLM.EmbeddingModel,
		EmbeddingDimensions: cfg.LLM.EmbeddingDimensions,
		Timeout:             cfg.LLM.Timeout,
	}
	client, err := llm.NewClient(ctx, llmCfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create llm client", "error", err)
		os.Exit(1)
	}
	embedder, err := llm.NewEmbedder(ctx, llmCfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create embedder", "error", err)
		os.Exit(1)
	}

	// Chat and embedding calls share one budget of in-flight requests.
	limiter := llm.NewLimiter(cfg.LLM.MaxConcurrent)
	client = llm.Limit(client, limiter)
	embedder = llm.LimitEmbedder(embedder, limiter)
	slog.InfoContext(ctx, "llm client initialized",
		"model", cfg.LLM.Model,
		"embedding_model", cfg.LLM.EmbeddingModel,
		"max_concurrent", limiter.Size())

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	classifications := cache.New[model.Classification](cfg.Classifier.CacheTTL, cfg.Classifier.SweepInterval, nil)
	classifications.Start(runCtx)

	grouper := grouping.New(grouping.Deps{
		Stores:     stores.Stores,
		Tx:         stores.Tx,
		Embedder:   embedder,
		Summarizer: summary.New(client),
		Arbiter:    grouping.NewArbiter(client),
	}, cfg.Grouping)

	seq := sequencer.New(cfg.Pipeline.QueueBuffer)
	go seq.Run(runCtx)

	p := pipeline.New(pipeline.Deps{
		Classifier: classify.New(client, classifications),
		Grouper:    grouper,
		Sequencer:  seq,
		Notifier:   notify.NewRedisPublisher(redisClient, cfg.Pipeline.NotificationChannel),
	})

	w := worker.New(consumer, p, worker.Config{
		Concurrency: cfg.Pipeline.Concurrency,
	})

	reclaimer := worker.NewReclaimer(reclaimConsumer, worker.ReclaimerConfig{
		MinIdle:   5 * time.Minute,
		Interval:  time.Minute,
		BatchSize: 10,
	}, w.ProcessMessage)

	errCh := make(chan error, 2)
	go func() {
		errCh <- w.Run(runCtx)
	}()
	go func() {
		reclaimer.Run(runCtx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Reclaimer first (quick), then the worker so in-flight messages still reach the
	// sequencer, then the sequencer drains what was queued.
	reclaimer.Stop()
	w.Stop()

	done := make(chan struct{})
	go func() {
		seq.Stop()
		classifications.Shutdown()
		close(done)
	}()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case <-done:
	}

	for range 2 {
		if err := <-errCh; err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(ctx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
 _____ ____  ___    _    ____ _____  __        _____  ____  _  _______ ____
|_   _|  _ \|_ _|  / \  / ___| ____| \ \      / / _ \|  _ \| |/ / ____|  _ \
  | | | |_) || |  / _ \| |  _|  _|    \ \ /\ / / | | | |_) | ' /|  _| | |_) |
  | | |  _ < | | / ___ \ |_| | |___    \ V  V /| |_| |  _ <| . \| |___|  _ <
  |_| |_| \_\___/_/   \_\____|_____|    \_/\_/  \___/|_| \_\_|\_\_____|_| \_\
`
