package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobarin/listingreel/internal/apperr"
	"github.com/bobarin/listingreel/internal/models"
)

// BatchService starts and stops generation.
type BatchService interface {
	StartGeneration(ctx context.Context, req models.CreateBatchRequest) (*models.CreateBatchResponse, error)
	CancelBatch(ctx context.Context, batchID uuid.UUID) (*models.VideoBatch, error)
}

// BatchReader serves the polling endpoints.
type BatchReader interface {
	GetBatch(ctx context.Context, id uuid.UUID) (*models.VideoBatch, error)
	ListBatchJobs(ctx context.Context, batchID uuid.UUID) ([]models.GenerationJob, error)
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	batches BatchService
	reader  BatchReader
	checks  map[string]HealthCheck
	log     zerolog.Logger
}

func NewHandler(batches BatchService, reader BatchReader, checks map[string]HealthCheck, logger zerolog.Logger) *Handler {
	return &Handler{
		batches: batches,
		reader:  reader,
		checks:  checks,
		log:     logger.With().Str("component", "api").Logger(),
	}
}

// CreateBatch handles POST /v1/batches
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req models.CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.batches.StartGeneration(r.Context(), req)
	if err != nil {
		h.respondAppError(w, err, "Failed to start generation")
		return
	}

	respondJSON(w, http.StatusCreated, resp)
}

// GetBatch handles GET /v1/batches/{id}
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := batchIDParam(w, r)
	if !ok {
		return
	}

	batch, err := h.reader.GetBatch(r.Context(), batchID)
	if err != nil {
		h.respondAppError(w, err, "Failed to get batch")
		return
	}
	jobs, err := h.reader.ListBatchJobs(r.Context(), batchID)
	if err != nil {
		h.respondAppError(w, err, "Failed to get jobs")
		return
	}

	respondJSON(w, http.StatusOK, models.BatchResponse{VideoBatch: *batch, Jobs: jobs})
}

// ListBatchJobs handles GET /v1/batches/{id}/jobs
func (h *Handler) ListBatchJobs(w http.ResponseWriter, r *http.Request) {
	batchID, ok := batchIDParam(w, r)
	if !ok {
		return
	}

	if _, err := h.reader.GetBatch(r.Context(), batchID); err != nil {
		h.respondAppError(w, err, "Failed to get batch")
		return
	}
	jobs, err := h.reader.ListBatchJobs(r.Context(), batchID)
	if err != nil {
		h.respondAppError(w, err, "Failed to get jobs")
		return
	}
	if jobs == nil {
		jobs = []models.GenerationJob{}
	}

	respondJSON(w, http.StatusOK, jobs)
}

// CancelBatch handles POST /v1/batches/{id}/cancel
func (h *Handler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := batchIDParam(w, r)
	if !ok {
		return
	}

	batch, err := h.batches.CancelBatch(r.Context(), batchID)
	if err != nil {
		h.respondAppError(w, err, "Failed to cancel batch")
		return
	}

	respondJSON(w, http.StatusOK, batch)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.log.Warn().Err(err).Str("dependency", name).Msg("health check failed")
			status[name] = "unavailable"
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	respondJSON(w, code, status)
}

func batchIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid batch ID")
		return uuid.Nil, false
	}
	return id, true
}

// respondAppError maps the error taxonomy onto HTTP statuses. Unexpected
// errors are logged and hidden behind fallback.
func (h *Handler) respondAppError(w http.ResponseWriter, err error, fallback string) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		switch appErr.Kind {
		case apperr.KindValidation:
			respondJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": appErr.Message, "code": appErr.Code})
			return
		case apperr.KindNotFound:
			respondError(w, http.StatusNotFound, appErr.Message)
			return
		case apperr.KindAuthentication:
			respondError(w, http.StatusUnauthorized, appErr.Message)
			return
		}
	}
	h.log.Error().Err(err).Msg(fallback)
	respondError(w, http.StatusInternalServerError, fallback)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
