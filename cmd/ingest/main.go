package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bobarin/listingreel/internal/api"
	"github.com/bobarin/listingreel/internal/app"
	"github.com/bobarin/listingreel/internal/config"
	"github.com/bobarin/listingreel/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := config.NewLogger("production")
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := config.NewLogger(cfg.AppEnv).With().Str("process", "ingest").Logger()
	logger.Info().Msg("starting listingreel ingest")

	a, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()

	verifier := api.NewVerifier(cfg.FalJWKSURL, logger)
	webhooks := api.NewWebhookHandler(verifier, a.Queue, logger)
	router := api.NewIngestRouter(a.Handler, webhooks, a.RouterConfig())

	server := &http.Server{
		Addr:              ":" + cfg.IngestPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	if cfg.WorkerEnabled {
		workers.Add(1)
		go func() {
			defer workers.Done()
			a.Worker.Start(workerCtx, cfg.MaxConcurrentJobs, queue.QueueCallback, queue.QueueCompose)
		}()
	}

	go func() {
		logger.Info().Str("port", cfg.IngestPort).Msg("ingest server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down ingest")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting callbacks first so nothing is acknowledged after the workers stop.
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	workerCancel()
	workers.Wait()

	logger.Info().Msg("ingest exited")
}
