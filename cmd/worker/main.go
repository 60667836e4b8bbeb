package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"receipt-ingest/internal/config"
	"receipt-ingest/internal/embedding"
	"receipt-ingest/internal/extract"
	"receipt-ingest/internal/queue"
	"receipt-ingest/internal/store"
	"receipt-ingest/internal/telemetry"
	"receipt-ingest/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	pipeline := extract.NewPipeline(
		extract.NewLoader(cfg.ImageFetchTimeout, cfg.ImageMaxBytes),
		extract.NewInvoker(cfg.LLMProviderURL, cfg.LLMModel, cfg.LLMTimeout),
		cfg.ImageMaxDimension,
	)
	embedder := embedding.NewClient(cfg.LLMProviderURL, cfg.EmbeddingModel, cfg.LLMTimeout)
	q := queue.NewRedisQueue(rdb, cfg.VisibilityTimeout)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		log.Printf("worker metrics listening on %s", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server: %v", err)
		}
	}()

	proc := worker.NewProcessor(q, st, pipeline, embedder, cfg.WorkerPollInterval)
	log.Printf("worker started, model %s at %s", cfg.LLMModel, cfg.LLMProviderURL)
	if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("worker: %v", err)
	}
	log.Println("worker stopped")
}
