package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/bobarin/listingreel/internal/apperr"
	"github.com/bobarin/listingreel/internal/models"
)

const (
	maxWebhookBody = 10 << 20
	// enqueueAttempts bounds the queue handoff before the callback is
	// acknowledged as failed.
	enqueueAttempts = 3
)

// CallbackSink queues verified callbacks for the ingest worker.
type CallbackSink interface {
	EnqueueCallback(ctx context.Context, cb models.ProviderCallback) (string, error)
}

// WebhookHandler receives provider completion callbacks. It only verifies
// and queues them; all state changes happen in the worker.
type WebhookHandler struct {
	verifier *Verifier
	sink     CallbackSink
	log      zerolog.Logger
	retryGap time.Duration
}

func NewWebhookHandler(verifier *Verifier, sink CallbackSink, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifier: verifier,
		sink:     sink,
		log:      logger.With().Str("component", "provider_webhook").Logger(),
		retryGap: 200 * time.Millisecond,
	}
}

// ProviderWebhook handles POST /webhooks/provider?job_id=<uuid>
func (h *WebhookHandler) ProviderWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to read body")
		return
	}

	signed, ok := signedRequestFrom(r.Header)
	if !ok {
		respondError(w, http.StatusBadRequest, "Missing webhook signature headers")
		return
	}
	if err := h.verifier.Verify(r.Context(), signed, body); err != nil {
		if apperr.CodeOf(err) == CodeKeysUnavailable {
			h.log.Error().Err(err).Str("request_id", signed.RequestID).Msg("cannot verify webhook")
			respondError(w, http.StatusServiceUnavailable, "Webhook verification unavailable")
			return
		}
		h.log.Warn().Err(err).Str("request_id", signed.RequestID).Msg("rejected webhook")
		respondError(w, http.StatusUnauthorized, "Invalid webhook signature")
		return
	}

	jobID := r.URL.Query().Get("job_id")
	logger := h.log.With().Str("request_id", signed.RequestID).Str("job_id", jobID).Logger()

	var cb models.ProviderCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		logger.Error().Err(err).Msg("unparseable callback body, acknowledging")
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if err := models.Validate(cb); err != nil {
		logger.Error().Err(err).Msg("incomplete callback body, acknowledging")
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	cb.JobID = jobID

	taskID, err := h.enqueue(r.Context(), cb)
	if err != nil {
		// Still acknowledged: the provider must not redeliver forever. The job
		// remains visible as processing through the status endpoints.
		logger.Error().Err(err).Str("status", cb.Status).Msg("failed to queue callback, callback dropped")
		respondJSON(w, http.StatusOK, map[string]string{"status": "failed"})
		return
	}

	logger.Info().Str("task_id", taskID).Str("status", cb.Status).Msg("callback queued")
	respondJSON(w, http.StatusOK, map[string]string{"status": "accepted", "taskId": taskID})
}

func (h *WebhookHandler) enqueue(ctx context.Context, cb models.ProviderCallback) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= enqueueAttempts; attempt++ {
		taskID, err := h.sink.EnqueueCallback(ctx, cb)
		if err == nil {
			return taskID, nil
		}
		lastErr = err
		if attempt == enqueueAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(h.retryGap):
		}
	}
	return "", lastErr
}
