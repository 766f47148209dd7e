package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/bobarin/listingreel/internal/apperr"
	"github.com/bobarin/listingreel/internal/models"
	"github.com/bobarin/listingreel/internal/services"
)

// AggregateResult is the outcome of looking at every job of a batch.
type AggregateResult struct {
	Ready bool
	// Jobs are the completed jobs with a clip, in sortOrder.
	Jobs []models.GenerationJob
}

// Aggregate decides whether a batch can be composed. When every job failed
// it fails the batch instead, and only the caller whose write wins sends
// the batch webhook.
func (p *Pipeline) Aggregate(ctx context.Context, batchID uuid.UUID) (AggregateResult, error) {
	jobs, err := p.Store.ListBatchJobs(ctx, batchID)
	if err != nil {
		return AggregateResult{}, fmt.Errorf("failed to list jobs: %w", err)
	}
	if len(jobs) == 0 {
		return AggregateResult{}, nil
	}

	allDone, allFailed := true, true
	var completed []models.GenerationJob
	var lastFailed *models.GenerationJob
	for i := range jobs {
		j := &jobs[i]
		switch j.Status {
		case models.JobStatusCompleted:
			allFailed = false
			if j.VideoURL != nil && *j.VideoURL != "" {
				completed = append(completed, *j)
			}
		case models.JobStatusFailed:
			if lastFailed == nil || !j.UpdatedAt.Before(lastFailed.UpdatedAt) {
				lastFailed = j
			}
		case models.JobStatusCanceled:
			allFailed = false
		default:
			allDone, allFailed = false, false
		}
	}

	if allFailed {
		p.failBatch(ctx, batchID, []models.BatchStatus{models.BatchStatusPending, models.BatchStatusProcessing}, &WebhookError{
			Message: allFailedMessage(len(jobs), lastFailed),
			Code:    "all_jobs_failed",
			Type:    "generation_error",
		})
		return AggregateResult{}, nil
	}
	if !allDone || len(completed) == 0 {
		return AggregateResult{}, nil
	}

	sort.Slice(completed, func(a, b int) bool {
		return completed[a].Settings.SortOrder < completed[b].Settings.SortOrder
	})
	return AggregateResult{Ready: true, Jobs: completed}, nil
}

func allFailedMessage(n int, last *models.GenerationJob) string {
	msg := fmt.Sprintf("all %d clips failed", n)
	if last == nil {
		return msg
	}
	msg += fmt.Sprintf("; last failure was job %s (%s)", last.ID, last.Settings.RoomName)
	if last.ErrorMessage != nil {
		msg += ": " + *last.ErrorMessage
	}
	return msg
}

// onJobSettled runs after a job reaches a terminal state. Composition is
// queued only by the caller that wins the pending to processing gate.
func (p *Pipeline) onJobSettled(ctx context.Context, batchID uuid.UUID) error {
	agg, err := p.Aggregate(ctx, batchID)
	if err != nil {
		return err
	}
	if !agg.Ready {
		return nil
	}

	won, err := p.Store.CompareAndSetBatchStatus(ctx, batchID,
		[]models.BatchStatus{models.BatchStatusPending}, models.BatchStatusProcessing, models.BatchUpdate{})
	if err != nil {
		return fmt.Errorf("failed to open composition gate: %w", err)
	}
	if !won {
		return nil
	}

	taskID, err := p.Tasks.EnqueueCompose(ctx, batchID)
	if err != nil {
		p.failBatch(ctx, batchID, []models.BatchStatus{models.BatchStatusProcessing}, &WebhookError{
			Message: "failed to schedule composition",
			Code:    "enqueue_failed",
			Type:    string(apperr.KindComposition),
		})
		return fmt.Errorf("failed to enqueue composition: %w", err)
	}
	p.log.Info().Str("batch_id", batchID.String()).Int("clips", len(agg.Jobs)).Str("task_id", taskID).Msg("composition queued")
	return nil
}

// Compose stitches a batch's finished clips. It only runs for a batch that
// passed the composition gate; a cancel that lands meanwhile wins.
func (p *Pipeline) Compose(ctx context.Context, batchID uuid.UUID) error {
	batch, err := p.Store.GetBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to load batch: %w", err)
	}
	logger := p.log.With().Str("batch_id", batchID.String()).Logger()
	if batch.Status != models.BatchStatusProcessing {
		logger.Info().Str("status", string(batch.Status)).Msg("batch not composing, skipping")
		return nil
	}

	agg, err := p.Aggregate(ctx, batchID)
	if err != nil {
		return err
	}
	if len(agg.Jobs) == 0 {
		p.failBatch(ctx, batchID, []models.BatchStatus{models.BatchStatusProcessing}, &WebhookError{
			Message: "no completed clips to compose",
			Code:    "no_clips",
			Type:    string(apperr.KindComposition),
		})
		return nil
	}
	urls := make([]string, 0, len(agg.Jobs))
	for _, j := range agg.Jobs {
		urls = append(urls, *j.VideoURL)
	}

	result, err := p.Composer.Compose(ctx, services.CompositionInput{
		ClipURLs:    urls,
		Settings:    batch.Composition,
		Scope:       scopeOf(batch),
		DisplayName: batch.DisplayName,
	})
	if err != nil {
		logger.Error().Err(err).Msg("composition failed")
		p.failBatch(ctx, batchID, []models.BatchStatus{models.BatchStatusProcessing}, &WebhookError{
			Message:   err.Error(),
			Code:      apperr.CodeOf(err),
			Type:      string(apperr.KindComposition),
			Retryable: apperr.IsRetryable(err),
		})
		return nil
	}

	won, err := p.Store.CompareAndSetBatchStatus(ctx, batchID,
		[]models.BatchStatus{models.BatchStatusProcessing}, models.BatchStatusCompleted,
		models.BatchUpdate{
			VideoURL:     &result.VideoURL,
			ThumbnailURL: &result.ThumbnailURL,
			Metadata:     &models.VideoMetadata{DurationSeconds: result.Duration, FileSize: result.FileSize},
		})
	if err != nil {
		return fmt.Errorf("failed to complete batch: %w", err)
	}
	if !won {
		logger.Info().Msg("batch closed during composition, result discarded")
		return nil
	}

	logger.Info().Str("video_url", result.VideoURL).Int("duration", result.Duration).Msg("video completed")
	batch.Status = models.BatchStatusCompleted
	p.notifyBatch(ctx, batch, nil, &WebhookResult{
		VideoURL:     result.VideoURL,
		ThumbnailURL: result.ThumbnailURL,
		Duration:     result.Duration,
		FileSize:     result.FileSize,
	})
	return nil
}

// failBatch fails the batch and sends the final webhook if this write won.
func (p *Pipeline) failBatch(ctx context.Context, batchID uuid.UUID, from []models.BatchStatus, reason *WebhookError) {
	won, err := p.Store.CompareAndSetBatchStatus(ctx, batchID, from, models.BatchStatusFailed, models.BatchUpdate{ErrorMessage: &reason.Message})
	if err != nil {
		p.log.Error().Err(err).Str("batch_id", batchID.String()).Msg("failed to mark batch failed")
		return
	}
	if !won {
		return
	}
	p.log.Warn().Str("batch_id", batchID.String()).Str("reason", reason.Message).Msg("video failed")

	batch, err := p.Store.GetBatch(ctx, batchID)
	if err != nil {
		p.log.Error().Err(err).Str("batch_id", batchID.String()).Msg("failed to reload batch for webhook")
		return
	}
	p.notifyBatch(ctx, batch, reason, nil)
}
