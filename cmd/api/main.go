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
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLogger := config.NewLogger("production")
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := config.NewLogger(cfg.AppEnv).With().Str("process", "api").Logger()
	logger.Info().Msg("starting listingreel api")

	a, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()

	router := api.NewRouter(a.Handler, a.RouterConfig())
	if cfg.BackendAPIKey != "" {
		logger.Info().Msg("API key authentication enabled")
	} else {
		logger.Warn().Msg("no BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Dispatch runs next to the API so new batches start without the ingest process.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	if cfg.WorkerEnabled {
		workers.Add(1)
		go func() {
			defer workers.Done()
			a.Worker.Start(workerCtx, cfg.MaxConcurrentJobs, queue.QueueDispatch)
		}()
	}

	go func() {
		logger.Info().Str("port", cfg.APIPort).Msg("api server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	workerCancel()
	workers.Wait()

	logger.Info().Msg("server exited")
}
