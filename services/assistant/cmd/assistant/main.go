package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gotovo/internal/ratelimit"
	"gotovo/internal/servicetoken"
	"gotovo/internal/util"
	"gotovo/pkg/ai"
	"gotovo/pkg/metrics"
	"gotovo/pkg/modelroute"
	"gotovo/pkg/retrieval"
	"gotovo/pkg/store"
	"gotovo/pkg/usage"
	"gotovo/services/assistant/internal/app"
	"gotovo/services/assistant/internal/config"
	"gotovo/services/assistant/internal/server"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so the store is closed on every path.
func run() int {
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		return 1
	}
	logger := util.InitLogger(cfg.LogLevel, "assistant")

	st, err := store.Open(cfg.DatabaseURL, store.WithEmbeddingDim(cfg.EmbeddingDim))
	if err != nil {
		util.Fatal("failed to open store", "err", err)
	}
	defer st.Close()

	m := metrics.New("assistant")
	router := modelroute.New(modelroute.Table{
		Free:      modelroute.Route{Model: cfg.Models.Free},
		Trial:     modelroute.Route{Model: cfg.Models.Trial},
		PaidLight: modelroute.Route{Model: cfg.Models.PaidLight},
		PaidHeavy: modelroute.Route{Model: cfg.Models.PaidHeavy},
	})
	usageSvc := usage.NewService(st, cfg.Limits,
		usage.WithRouter(router),
		usage.WithMetrics(m),
		usage.WithLogger(logger),
	)

	generator, err := ai.NewGenerator(ai.GeneratorConfig{
		Provider:     cfg.GenerationProvider,
		BaseURL:      cfg.GenerationBaseURL,
		APIKey:       cfg.GenerationAPIKey,
		DefaultModel: cfg.Models.PaidLight,
	})
	if err != nil {
		logger.Error("failed to init generator", "err", err)
		return 1
	}
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
	hints := retrieval.NewService(st, embedder, retrieval.Config{
		Timeout:  time.Duration(cfg.RetrievalTimeoutMs) * time.Millisecond,
		DefaultK: cfg.RetrievalTopK,
	}, m, logger)

	var limiter app.Limiter
	if cfg.SolveRateLimit > 0 {
		l, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "gotovo:ratelimit",
			cfg.SolveRateLimit, time.Duration(cfg.SolveRateWindowSeconds)*time.Second)
		if err != nil {
			logger.Error("failed to init rate limiter", "err", err)
			return 1
		}
		limiter = l
	}

	appCore, err := app.New(app.Config{
		Usage:     usageSvc,
		Router:    router,
		Generator: generator,
		Hints:     hints,
		Limiter:   limiter,
		TopK:      cfg.RetrievalTopK,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to init app", "err", err)
		return 1
	}

	verifier, err := servicetoken.NewVerifier(cfg.ServiceTokenSecret, "assistant", cfg.AllowedCallers)
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
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("failed to listen", "addr", addr, "err", err)
		return 1
	}
	logger.Info("assistant server listening", "addr", addr, "dialect", st.Dialect(), "models", router.Models())
	if err := serve(ctx, srv, ln, 30*time.Second); err != nil {
		logger.Error("server error", "err", err)
		return 1
	}
	logger.Info("assistant server stopped")
	return 0
}

// serve runs srv until ctx is done, then drains in-flight requests for at
// most grace.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, grace time.Duration) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	return nil
}
