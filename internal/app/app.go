// Package app wires the shared components both processes run on.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bobarin/listingreel/internal/api"
	"github.com/bobarin/listingreel/internal/config"
	"github.com/bobarin/listingreel/internal/db"
	"github.com/bobarin/listingreel/internal/models"
	"github.com/bobarin/listingreel/internal/notify"
	"github.com/bobarin/listingreel/internal/pipeline"
	"github.com/bobarin/listingreel/internal/planner"
	"github.com/bobarin/listingreel/internal/prompts"
	"github.com/bobarin/listingreel/internal/queue"
	"github.com/bobarin/listingreel/internal/services"
	"github.com/bobarin/listingreel/internal/storage"
	"github.com/bobarin/listingreel/internal/worker"
)

type App struct {
	Config   *config.Config
	Log      zerolog.Logger
	DB       *db.DB
	Queue    *queue.Queue
	Storage  storage.Backend
	Pipeline *pipeline.Pipeline
	Handler  *api.Handler
	Worker   *worker.Worker

	closers []func()
}

// Build connects to every backing service and assembles the pipeline.
// Close releases whatever was opened, including on a partial failure.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (a *App, err error) {
	a = &App{Config: cfg, Log: logger}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	a.DB, err = db.New(cfg.DatabaseURL)
	if err != nil {
		return a, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.closers = append(a.closers, func() { a.DB.Close() })
	logger.Info().Msg("connected to database")

	if cfg.AutoMigrate {
		if err = a.DB.Migrate(ctx); err != nil {
			return a, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	a.Queue, err = queue.New(cfg.RedisURL)
	if err != nil {
		return a, fmt.Errorf("failed to connect to queue: %w", err)
	}
	a.closers = append(a.closers, func() { a.Queue.Close() })
	logger.Info().Msg("connected to redis queue")

	a.Storage, err = newStorage(ctx, cfg, logger)
	if err != nil {
		return a, err
	}

	toolkit, err := services.ResolveToolkit(ctx, cfg.FFmpegPath, cfg.FFprobePath)
	if err != nil {
		return a, err
	}
	media, err := services.NewMediaEngine(toolkit, cfg.TempDir, logger)
	if err != nil {
		return a, err
	}

	provider, err := a.newProvider(ctx, cfg, logger)
	if err != nil {
		return a, err
	}

	catalog, err := prompts.Default()
	if err != nil {
		return a, fmt.Errorf("failed to load prompt catalog: %w", err)
	}
	plan := planner.New(planner.Options{
		Provider:           cfg.VideoProvider,
		Model:              cfg.GenerationModel(),
		DurationSeconds:    cfg.ClipDurationSeconds,
		PriorityCategories: cfg.PriorityCategories,
		MinSecondaryScore:  cfg.MinSecondaryScore,
		Catalog:            catalog,
	})

	a.Pipeline = pipeline.New(pipeline.Deps{
		Store:    a.DB,
		Tasks:    a.Queue,
		Planner:  plan,
		Provider: provider,
		Media:    media,
		Composer: services.NewComposer(media, a.Storage, logger),
		Storage:  a.Storage,
		Notifier: notify.NewSender(logger),
	}, pipeline.Options{
		PublicBaseURL:           cfg.PublicBaseURL,
		CallbackURL:             cfg.CallbackWebhookURL,
		CallbackSecret:          cfg.CallbackWebhookSecret,
		DispatchConcurrency:     cfg.DispatchConcurrency,
		EnablePrioritySecondary: cfg.EnablePrioritySecondary,
		ClaimTTL:                cfg.ClaimTTL,
		MaxConcurrentUploads:    cfg.MaxConcurrentUploads,
		JobBudget:               pipeline.Budget{MaxRetries: cfg.JobWebhookMaxRetries, Backoff: cfg.JobWebhookBackoff},
		BatchBudget:             pipeline.Budget{MaxRetries: cfg.BatchWebhookMaxRetries, Backoff: cfg.BatchWebhookBackoff},
	}, logger)

	a.Handler = api.NewHandler(a.Pipeline, a.DB, map[string]api.HealthCheck{
		"database": a.DB.PingContext,
		"redis":    a.Queue.Ping,
	}, logger)
	a.Worker = worker.New(a.Pipeline, a.Queue, logger)

	return a, nil
}

// RouterConfig is the HTTP configuration shared by both routers.
func (a *App) RouterConfig() api.RouterConfig {
	return api.RouterConfig{
		BackendAPIKey:      a.Config.BackendAPIKey,
		CorsAllowedOrigins: a.Config.CorsAllowedOrigins,
		Logger:             a.Log,
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newStorage(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (storage.Backend, error) {
	switch cfg.StorageBackend {
	case config.StorageMinIO:
		stor, err := storage.NewMinIO(ctx, storage.MinIOConfig{
			Endpoint:      cfg.MinIOEndpoint,
			AccessKey:     cfg.MinIOAccessKey,
			SecretKey:     cfg.MinIOSecretKey,
			Bucket:        cfg.MinIOBucket,
			UseSSL:        cfg.MinIOUseSSL,
			PublicBaseURL: cfg.MinIOPublicURL,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize minio storage: %w", err)
		}
		logger.Info().Str("bucket", cfg.MinIOBucket).Msg("initialized minio storage")
		return stor, nil
	default:
		logger.Info().Str("bucket", cfg.SupabaseStorageBucket).Msg("initialized supabase storage")
		return storage.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket, logger), nil
	}
}

func (a *App) newProvider(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (pipeline.Provider, error) {
	if cfg.VideoProvider == models.ProviderVeo {
		veo, err := services.NewVeoProvider(ctx, cfg.GeminiKey, cfg.VeoModel, a.Storage, a.Queue, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, veo.Close)
		logger.Info().Str("model", cfg.VeoModel).Msg("video provider: veo")
		return veo, nil
	}

	logger.Info().Str("model", cfg.FalModel).Msg("video provider: queue")
	return services.NewQueueProvider(services.QueueProviderConfig{
		BaseURL:   cfg.FalBaseURL,
		APIKey:    cfg.FalKey,
		Model:     cfg.FalModel,
		MaxImages: cfg.FalMaxImages,
	}, logger), nil
}
