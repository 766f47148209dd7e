package api

import (
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// RouterConfig holds settings for the API router.
type RouterConfig struct {
	// BackendAPIKey is the key that must be provided in X-API-Key or Authorization: Bearer <key>.
	// If empty, auth middleware is skipped (development mode).
	BackendAPIKey string

	// CorsAllowedOrigins is a comma-separated list of allowed origins.
	// If empty, defaults to "*" (development mode).
	CorsAllowedOrigins string

	Logger zerolog.Logger
}

func baseRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	return r
}

// NewRouter serves the batch API for the calling application.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := baseRouter(cfg)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg.CorsAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	r.Route("/v1", func(r chi.Router) {
		if cfg.BackendAPIKey != "" {
			r.Use(APIKeyAuth(cfg.BackendAPIKey))
		}

		r.Post("/batches", h.CreateBatch)
		r.Get("/batches/{id}", h.GetBatch)
		r.Get("/batches/{id}/jobs", h.ListBatchJobs)
		r.Post("/batches/{id}/cancel", h.CancelBatch)
	})

	return r
}

// NewIngestRouter serves provider webhooks. It carries no API key or CORS:
// callers authenticate by signature.
func NewIngestRouter(h *Handler, wh *WebhookHandler, cfg RouterConfig) *chi.Mux {
	r := baseRouter(cfg)

	r.Get("/health", h.Health)
	r.Post("/webhooks/provider", wh.ProviderWebhook)

	return r
}

func allowedOrigins(raw string) []string {
	if raw == "" {
		return []string{"*"}
	}
	var trimmed []string
	for _, o := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(o); s != "" {
			trimmed = append(trimmed, s)
		}
	}
	if len(trimmed) == 0 {
		return []string{"*"}
	}
	return trimmed
}
