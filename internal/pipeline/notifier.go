package pipeline

import (
	"context"
	"time"

	"github.com/bobarin/listingreel/internal/models"
	"github.com/bobarin/listingreel/internal/notify"
)

// Outbound webhook events.
const (
	EventJobCompleted   = "job.completed"
	EventJobFailed      = "job.failed"
	EventVideoCompleted = "video.completed"
	EventVideoFailed    = "video.failed"
)

// WebhookPayload is the body sent to the calling application. ProjectID and
// VideoID both carry the batch id; consumers key on whichever they know.
type WebhookPayload struct {
	Event     string         `json:"event"`
	JobID     string         `json:"jobId,omitempty"`
	BatchID   string         `json:"batchId"`
	ProjectID string         `json:"projectId"`
	ListingID string         `json:"listingId"`
	VideoID   string         `json:"videoId,omitempty"`
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Result    *WebhookResult `json:"result,omitempty"`
	Error     *WebhookError  `json:"error,omitempty"`
}

type WebhookResult struct {
	VideoURL     string `json:"videoUrl"`
	ThumbnailURL string `json:"thumbnailUrl"`
	Duration     int    `json:"duration"`
	FileSize     int64  `json:"fileSize"`
}

type WebhookError struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	Type      string `json:"type"`
	Retryable bool   `json:"retryable"`
}

// notifyJob sends a job-level webhook. Exactly one of failure and result is set.
func (p *Pipeline) notifyJob(ctx context.Context, job *models.GenerationJob, failure *WebhookError, result *WebhookResult) {
	if p.opts.CallbackURL == "" {
		return
	}
	batch, err := p.Store.GetBatch(ctx, job.VideoBatchID)
	if err != nil {
		p.log.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to load batch for job webhook")
		return
	}

	payload := WebhookPayload{
		Event:     EventJobCompleted,
		JobID:     job.ID.String(),
		BatchID:   batch.ID.String(),
		ProjectID: batch.ID.String(),
		ListingID: batch.ListingID,
		Status:    string(models.JobStatusCompleted),
		Timestamp: p.now().UTC(),
		Result:    result,
	}
	if failure != nil {
		payload.Event = EventJobFailed
		payload.Status = string(models.JobStatusFailed)
		payload.Result = nil
		payload.Error = failure
	}

	d := p.deliver(ctx, payload, p.opts.JobBudget)
	if err := p.Store.RecordJobDelivery(ctx, job.ID, d); err != nil {
		p.log.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to record webhook delivery")
	}
}

// notifyBatch sends the batch-final webhook.
func (p *Pipeline) notifyBatch(ctx context.Context, batch *models.VideoBatch, failure *WebhookError, result *WebhookResult) {
	if p.opts.CallbackURL == "" {
		return
	}

	payload := WebhookPayload{
		Event:     EventVideoCompleted,
		BatchID:   batch.ID.String(),
		ProjectID: batch.ID.String(),
		ListingID: batch.ListingID,
		VideoID:   batch.ID.String(),
		Status:    string(models.BatchStatusCompleted),
		Timestamp: p.now().UTC(),
		Result:    result,
	}
	if failure != nil {
		payload.Event = EventVideoFailed
		payload.Status = string(models.BatchStatusFailed)
		payload.Result = nil
		payload.Error = failure
	}

	d := p.deliver(ctx, payload, p.opts.BatchBudget)
	if err := p.Store.RecordBatchDelivery(ctx, batch.ID, d); err != nil {
		p.log.Error().Err(err).Str("batch_id", batch.ID.String()).Msg("failed to record webhook delivery")
	}
}

// deliver sends one webhook and returns what should be recorded on the
// originating row. Delivery failures never change job or batch status.
func (p *Pipeline) deliver(ctx context.Context, payload WebhookPayload, budget Budget) models.Delivery {
	res, err := p.Notifier.Send(ctx, notify.Delivery{
		URL:        p.opts.CallbackURL,
		Secret:     p.opts.CallbackSecret,
		Payload:    payload,
		MaxRetries: budget.MaxRetries,
		Backoff:    budget.Backoff,
	})

	d := models.Delivery{WebhookAttempts: res.Attempts, WebhookDeliveredAt: res.DeliveredAt}
	if err != nil {
		p.log.Warn().Err(err).Str("event", payload.Event).Str("batch_id", payload.BatchID).Int("attempts", res.Attempts).Msg("webhook not delivered")
		d.WebhookLastError = strPtr(err.Error())
		return d
	}
	p.log.Info().Str("event", payload.Event).Str("batch_id", payload.BatchID).Int("attempts", res.Attempts).Msg("webhook delivered")
	return d
}
