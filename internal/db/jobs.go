package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/listingreel/internal/apperr"
	"github.com/bobarin/listingreel/internal/models"
)

const jobColumns = `
	id, video_batch_id, request_id, status, video_url, thumbnail_url,
	error_message, error_type, error_retryable, generation_settings, result,
	processing_started_at, processing_completed_at, webhook_attempts,
	webhook_last_error, webhook_delivered_at, claimed_by, claim_expires_at,
	created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.GenerationJob, error) {
	job := &models.GenerationJob{}
	err := row.Scan(
		&job.ID, &job.VideoBatchID, &job.RequestID, &job.Status,
		&job.VideoURL, &job.ThumbnailURL, &job.ErrorMessage, &job.ErrorType,
		&job.ErrorRetryable, &job.Settings, &job.Result,
		&job.ProcessingStartedAt, &job.ProcessingCompletedAt,
		&job.WebhookAttempts, &job.WebhookLastError, &job.WebhookDeliveredAt,
		&job.ClaimedBy, &job.ClaimExpiresAt, &job.CreatedAt, &job.UpdatedAt,
	)
	return job, err
}

func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = $1`

	job, err := scanJob(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("job")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// FindJobByRequestID looks a job up by the provider-assigned request id.
func (db *DB) FindJobByRequestID(ctx context.Context, requestID string) (*models.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE request_id = $1`

	job, err := scanJob(db.QueryRowContext(ctx, query, requestID))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("job")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find job by request id: %w", err)
	}

	return job, nil
}

// ListBatchJobs returns the batch's jobs ordered by sort order.
func (db *DB) ListBatchJobs(ctx context.Context, batchID uuid.UUID) ([]models.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE video_batch_id = $1 ORDER BY sort_order`

	rows, err := db.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}

	return jobs, rows.Err()
}

// SetJobRequestID records the provider request id. An id already present is
// never overwritten with a different one.
func (db *DB) SetJobRequestID(ctx context.Context, id uuid.UUID, requestID string) error {
	query := `
		UPDATE generation_jobs
		SET request_id = $2, updated_at = now()
		WHERE id = $1 AND (request_id IS NULL OR request_id = $2)
	`
	_, err := db.ExecContext(ctx, query, id, requestID)
	if err != nil {
		return fmt.Errorf("failed to set request id: %w", err)
	}
	return nil
}

// MarkCallbackReceived stamps processing_completed_at on first receipt only.
func (db *DB) MarkCallbackReceived(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE generation_jobs
		SET processing_completed_at = $2, updated_at = now()
		WHERE id = $1 AND processing_completed_at IS NULL
	`
	res, err := db.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark callback received: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// CompareAndSetJobStatus moves the job to `to` only if its current status is
// one of `from`, writing the update's non-nil fields in the same statement.
func (db *DB) CompareAndSetJobStatus(ctx context.Context, id uuid.UUID, from []models.JobStatus, to models.JobStatus, upd models.JobUpdate) (bool, error) {
	query := `
		UPDATE generation_jobs SET
			status                = $3,
			video_url             = COALESCE($4, video_url),
			thumbnail_url         = COALESCE($5, thumbnail_url),
			error_message         = COALESCE($6, error_message),
			error_type            = COALESCE($7, error_type),
			error_retryable       = COALESCE($8, error_retryable),
			result                = COALESCE($9::jsonb, result),
			processing_started_at = COALESCE($10, processing_started_at),
			updated_at            = now()
		WHERE id = $1 AND status = ANY($2)
	`

	res, err := db.ExecContext(ctx, query,
		id, jobStatuses(from), to,
		upd.VideoURL, upd.ThumbnailURL, upd.ErrorMessage, upd.ErrorType,
		upd.ErrorRetryable, metadataParam(upd.Result), upd.ProcessingStartedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// TryClaimJob takes the finalization claim for owner until ttl elapses. It
// fails when another owner holds an unexpired claim or the job is settled.
func (db *DB) TryClaimJob(ctx context.Context, id uuid.UUID, owner string, ttl time.Duration) (bool, error) {
	query := `
		UPDATE generation_jobs
		SET claimed_by = $2, claim_expires_at = now() + $3 * interval '1 millisecond', updated_at = now()
		WHERE id = $1
			AND status <> ALL($4)
			AND (claimed_by IS NULL OR claimed_by = $2 OR claim_expires_at < now())
	`
	settled := []models.JobStatus{models.JobStatusCompleted, models.JobStatusCanceled}
	res, err := db.ExecContext(ctx, query, id, owner, ttl.Milliseconds(), jobStatuses(settled))
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

func (db *DB) ReleaseJobClaim(ctx context.Context, id uuid.UUID, owner string) error {
	query := `
		UPDATE generation_jobs
		SET claimed_by = NULL, claim_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND claimed_by = $2
	`
	if _, err := db.ExecContext(ctx, query, id, owner); err != nil {
		return fmt.Errorf("failed to release job claim: %w", err)
	}
	return nil
}

// CancelBatchJobs cancels every pending or processing job of the batch.
func (db *DB) CancelBatchJobs(ctx context.Context, batchID uuid.UUID) (int, error) {
	query := `
		UPDATE generation_jobs
		SET status = $3, updated_at = now()
		WHERE video_batch_id = $1 AND status = ANY($2)
	`
	res, err := db.ExecContext(ctx, query, batchID, jobStatuses(models.JobOpenStatuses), models.JobStatusCanceled)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// RecordJobDelivery stores the outcome of a job-level webhook.
func (db *DB) RecordJobDelivery(ctx context.Context, id uuid.UUID, d models.Delivery) error {
	query := `
		UPDATE generation_jobs
		SET webhook_attempts = webhook_attempts + $2, webhook_last_error = $3,
			webhook_delivered_at = COALESCE($4, webhook_delivered_at), updated_at = now()
		WHERE id = $1
	`
	_, err := db.ExecContext(ctx, query, id, d.WebhookAttempts, d.WebhookLastError, d.WebhookDeliveredAt)
	if err != nil {
		return fmt.Errorf("failed to record job delivery: %w", err)
	}
	return nil
}
