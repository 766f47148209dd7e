package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobarin/listingreel/internal/apperr"
	"github.com/bobarin/listingreel/internal/models"
	"github.com/bobarin/listingreel/internal/storage"
)

const (
	clipObjectName      = "clip.mp4"
	thumbnailObjectName = "thumbnail.jpg"
)

// HandleCallback applies one provider callback. Callbacks may arrive late,
// twice or concurrently; only the first useful one changes anything.
// Processing failures are recorded on the job, not returned.
func (p *Pipeline) HandleCallback(ctx context.Context, cb models.ProviderCallback) error {
	logger := p.log.With().Str("request_id", cb.RequestID).Str("callback_status", cb.Status).Logger()

	job, err := p.matchJob(ctx, cb)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			logger.Warn().Str("job_id", cb.JobID).Msg("no job for callback, dropping")
			return nil
		}
		return err
	}
	logger = logger.With().Str("job_id", job.ID.String()).Logger()

	if job.Status.IsSettled() {
		logger.Info().Str("status", string(job.Status)).Msg("job already settled, dropping callback")
		if job.Status == models.JobStatusCompleted {
			// A redelivery after a failed aggregation must still resolve the batch.
			return p.onJobSettled(ctx, job.VideoBatchID)
		}
		return nil
	}

	if first, err := p.Store.MarkCallbackReceived(ctx, job.ID, p.now()); err != nil {
		logger.Error().Err(err).Msg("failed to stamp callback receipt")
	} else if !first {
		logger.Info().Msg("repeat callback")
	}

	if !cb.Succeeded() {
		return p.handleFailureCallback(ctx, job, cb, logger)
	}
	return p.handleSuccessCallback(ctx, job, cb, logger)
}

// matchJob finds the job by provider request id, falling back to the job id
// carried in the callback URL and backfilling the request id.
func (p *Pipeline) matchJob(ctx context.Context, cb models.ProviderCallback) (*models.GenerationJob, error) {
	if cb.RequestID != "" {
		job, err := p.Store.FindJobByRequestID(ctx, cb.RequestID)
		if err == nil {
			return job, nil
		}
		if !apperr.IsKind(err, apperr.KindNotFound) {
			return nil, fmt.Errorf("failed to look up request id: %w", err)
		}
	}

	if cb.JobID == "" {
		return nil, apperr.NotFound("job")
	}
	jobID, err := uuid.Parse(cb.JobID)
	if err != nil {
		return nil, apperr.NotFound("job")
	}
	job, err := p.Store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if cb.RequestID != "" && job.RequestID == nil {
		if err := p.Store.SetJobRequestID(ctx, job.ID, cb.RequestID); err != nil {
			p.log.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to backfill request id")
		} else {
			job.RequestID = &cb.RequestID
		}
	}
	return job, nil
}

func (p *Pipeline) handleFailureCallback(ctx context.Context, job *models.GenerationJob, cb models.ProviderCallback, logger zerolog.Logger) error {
	msg := cb.Error
	if msg == "" {
		msg = "provider returned no video"
	}
	logger.Warn().Str("error", msg).Msg("provider reported failure")

	if !p.failJob(ctx, job, models.ErrorTypeProviderError, false, msg, "provider_failed") {
		logger.Info().Msg("job already moved on, failure callback ignored")
	}
	return p.onJobSettled(ctx, job.VideoBatchID)
}

func (p *Pipeline) handleSuccessCallback(ctx context.Context, job *models.GenerationJob, cb models.ProviderCallback, logger zerolog.Logger) error {
	owner := uuid.NewString()
	claimed, err := p.Store.TryClaimJob(ctx, job.ID, owner, p.opts.ClaimTTL)
	if err != nil {
		return fmt.Errorf("failed to claim job: %w", err)
	}
	if !claimed {
		logger.Info().Msg("job is being finalized elsewhere, dropping callback")
		return nil
	}

	completed, err := p.finalizeClip(ctx, job, cb.VideoURL(), logger)

	if relErr := p.Store.ReleaseJobClaim(context.WithoutCancel(ctx), job.ID, owner); relErr != nil {
		logger.Error().Err(relErr).Msg("failed to release claim")
	}

	if err != nil {
		logger.Error().Err(err).Msg("clip processing failed")
		p.failJob(ctx, job, models.ErrorTypeProcessingError, true, err.Error(), apperr.CodeOf(err))
		return p.onJobSettled(ctx, job.VideoBatchID)
	}
	if !completed {
		logger.Info().Msg("job closed while processing, result discarded")
		return p.onJobSettled(ctx, job.VideoBatchID)
	}

	logger.Info().Msg("job completed")
	return p.onJobSettled(ctx, job.VideoBatchID)
}

// finalizeClip processes and stores the raw clip and completes the job. It
// reports false without error when the job was closed underneath it.
func (p *Pipeline) finalizeClip(ctx context.Context, job *models.GenerationJob, rawURL string, logger zerolog.Logger) (bool, error) {
	batch, err := p.Store.GetBatch(ctx, job.VideoBatchID)
	if err != nil {
		return false, fmt.Errorf("failed to load batch: %w", err)
	}
	if batch.Status == models.BatchStatusCanceled {
		return false, nil
	}

	raw, err := p.Provider.Download(ctx, rawURL)
	if err != nil {
		return false, err
	}
	clip, err := p.Media.ProcessRaw(ctx, raw, job.Settings.AspectRatio)
	if err != nil {
		return false, err
	}

	scope := scopeOf(batch)
	meta := scope.Metadata()
	meta[storage.MetaJobID] = job.ID.String()

	var videoURL, thumbURL string
	if err := p.uploadWithLimit(ctx, job.ID.String()+"/"+clipObjectName, func() error {
		var err error
		videoURL, err = p.Storage.Upload(ctx, scope.JobKey(job.ID, clipObjectName), clip.Video, "video/mp4", meta)
		return err
	}); err != nil {
		return false, fmt.Errorf("failed to upload clip: %w", err)
	}
	if err := p.uploadWithLimit(ctx, job.ID.String()+"/"+thumbnailObjectName, func() error {
		var err error
		thumbURL, err = p.Storage.Upload(ctx, scope.JobKey(job.ID, thumbnailObjectName), clip.Thumbnail, "image/jpeg", meta)
		return err
	}); err != nil {
		return false, fmt.Errorf("failed to upload thumbnail: %w", err)
	}

	won, err := p.Store.CompareAndSetJobStatus(ctx, job.ID, models.JobCompletableStatus, models.JobStatusCompleted, models.JobUpdate{
		VideoURL:     &videoURL,
		ThumbnailURL: &thumbURL,
		Result:       &clip.Metadata,
	})
	if err != nil {
		return false, fmt.Errorf("failed to complete job: %w", err)
	}
	if !won {
		return false, nil
	}

	p.notifyJob(ctx, job, nil, &WebhookResult{
		VideoURL:     videoURL,
		ThumbnailURL: thumbURL,
		Duration:     clip.Metadata.DurationSeconds,
		FileSize:     clip.Metadata.FileSize,
	})
	logger.Debug().Str("video_url", videoURL).Msg("clip stored")
	return true, nil
}
