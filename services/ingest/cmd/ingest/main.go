package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gotovo/internal/servicetoken"
	"gotovo/internal/util"
	"gotovo/pkg/ai"
	"gotovo/pkg/metrics"
	"gotovo/pkg/retrieval"
	"gotovo/pkg/storage"
	"gotovo/pkg/store"
	"gotovo/services/ingest/internal/app"
	"gotovo/services/ingest/internal/config"
	"gotovo/services/ingest/internal/server"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup happens first.
func run() int {
	configPath := flag.String("config", config.ConfigPath(), "path to config.yaml")
	dryRun := flag.Bool("dry-run", false, "build the artifact without upserting")
	resume := flag.Bool("resume", false, "skip records committed by a matching checkpoint")
	sinkKind := flag.String("sink", "", "upsert target: indexer or direct")
	prefix := flag.String("prefix", "", "only read keys under this prefix")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		return 1
	}
	if *sinkKind != "" {
		cfg.Sink = *sinkKind
	}
	if *prefix != "" {
		cfg.SourcePrefix = *prefix
	}
	if err := cfg.Validate(*dryRun); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	logger := util.InitLogger(cfg.LogLevel, "ingest")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := openSource(cfg)
	if err != nil {
		util.Fatal("failed to open source", "err", err)
	}

	m := metrics.New("ingest")
	var sink app.Sink
	if !*dryRun {
		var closeSink func()
		sink, closeSink, err = openSink(cfg, m)
		if err != nil {
			util.Fatal("failed to init sink", "sink", cfg.Sink, "err", err)
		}
		defer closeSink()
	}

	builder, err := app.New(app.Config{
		Source:         source,
		Prefix:         cfg.SourcePrefix,
		Sink:           sink,
		ArtifactPath:   cfg.ArtifactPath,
		ArtifactKey:    cfg.ArtifactKey,
		CheckpointPath: cfg.CheckpointPath,
		ChunkSize:      cfg.ChunkSize,
		ChunkOverlap:   cfg.ChunkOverlap,
		BatchSize:      cfg.BatchSize,
		MaxRetries:     cfg.MaxRetries,
		MaxBackoff:     time.Duration(cfg.MaxBackoffSeconds) * time.Second,
		BatchPause:     time.Duration(cfg.BatchPauseMs) * time.Millisecond,
		Metrics:        m,
		Logger:         logger,
	})
	if err != nil {
		logger.Error("failed to init builder", "err", err)
		return 1
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           server.New(server.Config{App: builder, Metrics: m}).Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("status server listening", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server error", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	res, err := builder.Run(ctx, app.RunOptions{DryRun: *dryRun, Resume: *resume})
	summary, _ := json.Marshal(res)
	fmt.Println(string(summary))
	if err != nil {
		logger.Error("build failed", "err", err)
		return 1
	}
	logger.Info("build finished", "records", res.Records, "upserted", res.Upserted, "already_done", res.AlreadyDone)
	return 0
}

func openSource(cfg config.FileConfig) (storage.ObjectStore, error) {
	if cfg.MinioEndpoint != "" {
		return storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	}
	return storage.NewDirStore(cfg.SourceDir)
}

func openSink(cfg config.FileConfig, m *metrics.Metrics) (app.Sink, func(), error) {
	switch cfg.Sink {
	case config.SinkDirect:
		st, err := store.Open(cfg.DatabaseURL, store.WithEmbeddingDim(cfg.EmbeddingDim))
		if err != nil {
			return nil, nil, err
		}
		embedder, err := ai.NewEmbedder(ai.EmbedderConfig{
			Provider:   cfg.EmbeddingProvider,
			BaseURL:    cfg.EmbeddingBaseURL,
			APIKey:     cfg.EmbeddingAPIKey,
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.EmbeddingDim,
		})
		if err != nil {
			_ = st.Close()
			return nil, nil, err
		}
		indexer := retrieval.NewIndexer(st, embedder, 0, cfg.EmbeddingConcurrency, m)
		return app.NewDirectSink(indexer), func() { _ = st.Close() }, nil
	default:
		signer, err := servicetoken.NewSigner(cfg.ServiceTokenSecret, "ingest", 5*time.Minute)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("upserting through indexer", "url", cfg.IndexerURL)
		timeout := time.Duration(cfg.UpsertTimeoutSec) * time.Second
		return app.NewIndexerSink(cfg.IndexerURL, signer, timeout), func() {}, nil
	}
}
