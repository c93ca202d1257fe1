package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gotovo/internal/servicetoken"
	"gotovo/internal/util"
	"gotovo/pkg/ai"
	"gotovo/pkg/metrics"
	"gotovo/pkg/queue"
	"gotovo/pkg/retrieval"
	"gotovo/pkg/store"
	"gotovo/services/indexer/internal/app"
	"gotovo/services/indexer/internal/config"
	"gotovo/services/indexer/internal/server"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup happens first.
func run() int {
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		return 1
	}
	logger := util.InitLogger(cfg.LogLevel, "indexer")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DatabaseURL, store.WithEmbeddingDim(cfg.EmbeddingDim))
	if err != nil {
		util.Fatal("failed to open store", "err", err)
	}
	defer st.Close()

	embedder, err := ai.NewEmbedder(ai.EmbedderConfig{
		Provider:   cfg.EmbeddingProvider,
		BaseURL:    cfg.EmbeddingBaseURL,
		APIKey:     cfg.EmbeddingAPIKey,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDim,
	})
	if err != nil {
		logger.Error("failed to init embedder", "err", err)
		return 1
	}

	q, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     orDefault(cfg.QueueName, "gotovo:indexer"),
		Group:      orDefault(cfg.QueueGroup, "indexer"),
		MaxRetries: cfg.QueueMaxRetries,
		RetryDelay: time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to init queue", "err", err)
		return 1
	}
	defer q.Close()

	m := metrics.New("indexer")
	appCore, err := app.New(app.Config{
		Queue:      q,
		Indexer:    retrieval.NewIndexer(st, embedder, cfg.EmbeddingBatchSize, cfg.EmbeddingConcurrency, m),
		Metrics:    m,
		Logger:     logger,
		MaxRecords: cfg.MaxBatchRecords,
	})
	if err != nil {
		logger.Error("failed to init app", "err", err)
		return 1
	}
	appCore.Start(ctx, cfg.QueueConcurrency)

	verifier, err := servicetoken.NewVerifier(cfg.ServiceTokenSecret, "indexer", cfg.AllowedCallers)
	if err != nil {
		logger.Error("failed to init service token verifier", "err", err)
		return 1
	}
	httpServer := server.New(server.Config{App: appCore, Verifier: verifier, Metrics: m})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("indexer server listening", "addr", addr, "dialect", st.Dialect())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
		return 1
	}
	return 0
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
