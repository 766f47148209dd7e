package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/bobarin/listingreel/internal/apperr"
	"github.com/bobarin/listingreel/internal/models"
)

const batchColumns = `
	id, listing_id, owner_id, display_name, status, video_url, thumbnail_url,
	error_message, metadata, composition, webhook_attempts, webhook_last_error,
	webhook_delivered_at, created_at, updated_at
`

// CreateBatch inserts the batch and all of its jobs in one transaction.
func (db *DB) CreateBatch(ctx context.Context, batch *models.VideoBatch, jobs []*models.GenerationJob) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO video_batches (
			id, listing_id, owner_id, display_name, status, metadata, composition
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`,
		batch.ID, batch.ListingID, batch.OwnerID, batch.DisplayName,
		batch.Status, batch.Metadata, batch.Composition,
	).Scan(&batch.CreatedAt, &batch.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}

	for _, job := range jobs {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO generation_jobs (
				id, video_batch_id, status, generation_settings, sort_order, result
			) VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING created_at, updated_at
		`,
			job.ID, job.VideoBatchID, job.Status, job.Settings,
			job.Settings.SortOrder, job.Result,
		).Scan(&job.CreatedAt, &job.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func (db *DB) GetBatch(ctx context.Context, id uuid.UUID) (*models.VideoBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM video_batches WHERE id = $1`

	batch := &models.VideoBatch{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&batch.ID, &batch.ListingID, &batch.OwnerID, &batch.DisplayName,
		&batch.Status, &batch.VideoURL, &batch.ThumbnailURL, &batch.ErrorMessage,
		&batch.Metadata, &batch.Composition, &batch.WebhookAttempts,
		&batch.WebhookLastError, &batch.WebhookDeliveredAt,
		&batch.CreatedAt, &batch.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("batch")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}

	return batch, nil
}

// CompareAndSetBatchStatus moves the batch to `to` only if its current status
// is one of `from`. It reports whether this call made the transition.
func (db *DB) CompareAndSetBatchStatus(ctx context.Context, id uuid.UUID, from []models.BatchStatus, to models.BatchStatus, upd models.BatchUpdate) (bool, error) {
	query := `
		UPDATE video_batches SET
			status        = $3,
			video_url     = COALESCE($4, video_url),
			thumbnail_url = COALESCE($5, thumbnail_url),
			error_message = COALESCE($6, error_message),
			metadata      = COALESCE($7::jsonb, metadata),
			updated_at    = now()
		WHERE id = $1 AND status = ANY($2)
	`

	res, err := db.ExecContext(ctx, query,
		id, batchStatuses(from), to,
		upd.VideoURL, upd.ThumbnailURL, upd.ErrorMessage, metadataParam(upd.Metadata),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update batch status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// RecordBatchDelivery stores the outcome of the batch-final webhook.
func (db *DB) RecordBatchDelivery(ctx context.Context, id uuid.UUID, d models.Delivery) error {
	query := `
		UPDATE video_batches
		SET webhook_attempts = webhook_attempts + $2, webhook_last_error = $3,
			webhook_delivered_at = COALESCE($4, webhook_delivered_at), updated_at = now()
		WHERE id = $1
	`
	_, err := db.ExecContext(ctx, query, id, d.WebhookAttempts, d.WebhookLastError, d.WebhookDeliveredAt)
	if err != nil {
		return fmt.Errorf("failed to record batch delivery: %w", err)
	}
	return nil
}
