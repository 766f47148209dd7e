package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bobarin/listingreel/internal/apperr"
	"github.com/bobarin/listingreel/internal/models"
	"github.com/bobarin/listingreel/internal/planner"
	"github.com/bobarin/listingreel/internal/services"
)

// StartGeneration plans a listing into jobs, persists the batch and hands
// dispatch to a worker.
func (p *Pipeline) StartGeneration(ctx context.Context, req models.CreateBatchRequest) (*models.CreateBatchResponse, error) {
	if err := models.Validate(req); err != nil {
		return nil, apperr.Validation("invalid_request", err.Error())
	}

	orientation := req.Orientation
	if orientation == "" {
		orientation = models.OrientationPortrait
	}
	secondary := p.opts.EnablePrioritySecondary
	if req.EnablePrioritySecondary != nil {
		secondary = *req.EnablePrioritySecondary
	}

	specs, err := p.Planner.Plan(planner.Input{
		Images:                  req.Images,
		PrimaryImageURL:         req.PrimaryImageURL,
		Orientation:             orientation,
		EnablePrioritySecondary: secondary,
	})
	if err != nil {
		return nil, err
	}

	batch := &models.VideoBatch{
		ID:          uuid.New(),
		ListingID:   req.ListingID,
		OwnerID:     req.OwnerID,
		DisplayName: req.DisplayName,
		Status:      models.BatchStatusPending,
		Composition: req.Composition,
	}
	jobs := make([]*models.GenerationJob, 0, len(specs))
	for _, spec := range specs {
		if err := spec.Settings.Check(); err != nil {
			return nil, apperr.Validation("invalid_settings", err.Error())
		}
		jobs = append(jobs, &models.GenerationJob{
			ID:           uuid.New(),
			VideoBatchID: batch.ID,
			Status:       models.JobStatusPending,
			Settings:     spec.Settings,
		})
	}

	if err := p.Store.CreateBatch(ctx, batch, jobs); err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	taskID, err := p.Tasks.EnqueueDispatch(ctx, batch.ID)
	if err != nil {
		msg := "failed to schedule dispatch"
		if _, casErr := p.Store.CompareAndSetBatchStatus(ctx, batch.ID, []models.BatchStatus{models.BatchStatusPending}, models.BatchStatusFailed, models.BatchUpdate{ErrorMessage: &msg}); casErr != nil {
			p.log.Error().Err(casErr).Str("batch_id", batch.ID.String()).Msg("failed to mark batch failed")
		}
		return nil, fmt.Errorf("failed to enqueue dispatch: %w", err)
	}

	p.log.Info().
		Str("batch_id", batch.ID.String()).
		Str("listing_id", batch.ListingID).
		Int("jobs", len(jobs)).
		Str("task_id", taskID).
		Msg("generation started")

	return &models.CreateBatchResponse{
		BatchID:  batch.ID.String(),
		Status:   batch.Status,
		JobCount: len(jobs),
		TaskID:   taskID,
	}, nil
}

// Dispatch submits every pending job of a batch to the provider. Each
// submission only touches its own row, so the limit is purely about how
// hard the provider gets hit.
func (p *Pipeline) Dispatch(ctx context.Context, batchID uuid.UUID) error {
	batch, err := p.Store.GetBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to load batch: %w", err)
	}
	if batch.Status.IsTerminal() {
		p.log.Info().Str("batch_id", batchID.String()).Str("status", string(batch.Status)).Msg("batch closed, skipping dispatch")
		return nil
	}

	jobs, err := p.Store.ListBatchJobs(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	settled := make([]bool, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.DispatchConcurrency)
	for i := range jobs {
		job := jobs[i]
		if job.Status.IsDone() {
			settled[i] = true
			continue
		}
		if job.Status != models.JobStatusPending || job.RequestID != nil {
			continue
		}
		g.Go(func() error {
			settled[i] = !p.dispatchJob(gctx, &job)
			return nil
		})
	}
	g.Wait()

	// Jobs settled by this run or an earlier attempt of it: a batch whose
	// every job was refused must still resolve on redelivery.
	for _, s := range settled {
		if s {
			return p.onJobSettled(ctx, batchID)
		}
	}
	return nil
}

// dispatchJob reports whether the job was accepted by the provider.
func (p *Pipeline) dispatchJob(ctx context.Context, job *models.GenerationJob) bool {
	logger := p.log.With().Str("job_id", job.ID.String()).Int("sort_order", job.Settings.SortOrder).Logger()
	s := job.Settings

	requestID, err := p.Provider.Submit(ctx, services.SubmitRequest{
		Prompt:          s.Prompt,
		ImageURLs:       s.ImageURLs,
		DurationSeconds: s.DurationSeconds,
		AspectRatio:     s.AspectRatio,
		WebhookURL:      p.webhookURL(job.ID),
	})
	if err != nil {
		errType := models.ErrorTypeDispatchError
		if apperr.IsKind(err, apperr.KindUpstream) && !apperr.IsRetryable(err) {
			errType = models.ErrorTypeProviderRejected
		}
		logger.Error().Err(err).Str("error_type", string(errType)).Msg("dispatch failed")
		p.failJob(ctx, job, errType, apperr.IsRetryable(err), err.Error(), apperr.CodeOf(err))
		return false
	}

	if err := p.Store.SetJobRequestID(ctx, job.ID, requestID); err != nil {
		logger.Error().Err(err).Str("request_id", requestID).Msg("failed to store request id")
	}
	// A fast callback may already have moved the job on; losing this CAS is fine.
	if _, err := p.Store.CompareAndSetJobStatus(ctx, job.ID,
		[]models.JobStatus{models.JobStatusPending}, models.JobStatusProcessing,
		models.JobUpdate{ProcessingStartedAt: timePtr(p.now())},
	); err != nil {
		logger.Error().Err(err).Msg("failed to mark job processing")
	}

	logger.Info().Str("request_id", requestID).Msg("job dispatched")
	return true
}

// failJob moves an open job to failed and, when that write won, tells the
// caller. It does not run the aggregator.
func (p *Pipeline) failJob(ctx context.Context, job *models.GenerationJob, errType models.ErrorType, retryable bool, message, code string) bool {
	won, err := p.Store.CompareAndSetJobStatus(ctx, job.ID, models.JobOpenStatuses, models.JobStatusFailed, models.JobUpdate{
		ErrorMessage:   strPtr(message),
		ErrorType:      errorTypePtr(errType),
		ErrorRetryable: boolPtr(retryable),
	})
	if err != nil {
		p.log.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to mark job failed")
		return false
	}
	if !won {
		return false
	}

	if code == "" {
		code = string(errType)
	}
	p.notifyJob(ctx, job, &WebhookError{
		Message:   message,
		Code:      code,
		Type:      string(errType),
		Retryable: retryable,
	}, nil)
	return true
}

// CancelBatch stops a batch that has not finished. Jobs still open are
// canceled; callbacks and compositions already in flight lose their final
// write and become no-ops.
func (p *Pipeline) CancelBatch(ctx context.Context, batchID uuid.UUID) (*models.VideoBatch, error) {
	won, err := p.Store.CompareAndSetBatchStatus(ctx, batchID,
		[]models.BatchStatus{models.BatchStatusPending, models.BatchStatusProcessing},
		models.BatchStatusCanceled, models.BatchUpdate{})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel batch: %w", err)
	}
	if !won {
		batch, err := p.Store.GetBatch(ctx, batchID)
		if err != nil {
			return nil, err
		}
		if batch.Status == models.BatchStatusCanceled {
			return batch, nil
		}
		return nil, apperr.Validation("batch_closed", fmt.Sprintf("batch is already %s", batch.Status))
	}

	n, err := p.Store.CancelBatchJobs(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel jobs: %w", err)
	}
	p.log.Info().Str("batch_id", batchID.String()).Int("jobs_canceled", n).Msg("batch canceled")

	return p.Store.GetBatch(ctx, batchID)
}
