package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enums
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
	BatchStatusCanceled   BatchStatus = "canceled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed || s == BatchStatusCanceled
}

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCanceled   JobStatus = "canceled"
)

// IsSettled reports whether the job absorbs further callbacks without effect.
// Failed jobs are not settled: a late success callback may still complete them.
func (s JobStatus) IsSettled() bool {
	return s == JobStatusCompleted || s == JobStatusCanceled
}

// IsDone reports whether the job counts as finished for aggregation.
func (s JobStatus) IsDone() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Non-terminal job states a status write may start from.
var (
	JobOpenStatuses      = []JobStatus{JobStatusPending, JobStatusProcessing}
	JobCompletableStatus = []JobStatus{JobStatusPending, JobStatusProcessing, JobStatusFailed}
)

// ErrorType records who is to blame for a job failure.
type ErrorType string

const (
	ErrorTypeProviderRejected ErrorType = "provider_rejected" // dispatch refused the input
	ErrorTypeProviderError    ErrorType = "provider_error"    // provider reported failure in its callback
	ErrorTypeProcessingError  ErrorType = "processing_error"  // provider succeeded, our post-processing broke
	ErrorTypeDispatchError    ErrorType = "dispatch_error"    // transient failure talking to the provider
)

type Orientation string

const (
	OrientationPortrait  Orientation = "portrait"
	OrientationLandscape Orientation = "landscape"
	OrientationSquare    Orientation = "square"
)

// AspectRatio maps an orientation to the ratio sent to the provider.
func (o Orientation) AspectRatio() string {
	switch o {
	case OrientationLandscape:
		return "16:9"
	case OrientationSquare:
		return "1:1"
	default:
		return "9:16"
	}
}

// Models

// VideoBatch is the parent video for one listing-generation request.
type VideoBatch struct {
	ID           uuid.UUID           `json:"id"`
	ListingID    string              `json:"listing_id"`
	OwnerID      string              `json:"owner_id"`
	DisplayName  *string             `json:"display_name,omitempty"`
	Status       BatchStatus         `json:"status"`
	VideoURL     *string             `json:"video_url,omitempty"`
	ThumbnailURL *string             `json:"thumbnail_url,omitempty"`
	ErrorMessage *string             `json:"error_message,omitempty"`
	Metadata     VideoMetadata       `json:"metadata"`
	Composition  CompositionSettings `json:"composition"`
	Delivery
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VideoMetadata is the probed shape of a finished video.
type VideoMetadata struct {
	DurationSeconds int    `json:"duration,omitempty"`
	FileSize        int64  `json:"file_size,omitempty"`
	Width           int    `json:"width,omitempty"`
	Height          int    `json:"height,omitempty"`
	AspectRatio     string `json:"aspect_ratio,omitempty"`
	Orientation     string `json:"orientation,omitempty"`
}

func (m VideoMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *VideoMetadata) Scan(value interface{}) error {
	return scanJSON(value, m)
}

// Delivery tracks outbound webhook attempts for the row that originated them.
type Delivery struct {
	WebhookAttempts    int        `json:"webhook_attempts"`
	WebhookLastError   *string    `json:"webhook_last_error,omitempty"`
	WebhookDeliveredAt *time.Time `json:"webhook_delivered_at,omitempty"`
}

// GenerationJob produces one clip for one room.
type GenerationJob struct {
	ID                    uuid.UUID          `json:"id"`
	VideoBatchID          uuid.UUID          `json:"video_batch_id"`
	RequestID             *string            `json:"request_id,omitempty"`
	Status                JobStatus          `json:"status"`
	VideoURL              *string            `json:"video_url,omitempty"`
	ThumbnailURL          *string            `json:"thumbnail_url,omitempty"`
	ErrorMessage          *string            `json:"error_message,omitempty"`
	ErrorType             *ErrorType         `json:"error_type,omitempty"`
	ErrorRetryable        bool               `json:"error_retryable"`
	Settings              GenerationSettings `json:"generation_settings"`
	Result                VideoMetadata      `json:"result"`
	ProcessingStartedAt   *time.Time         `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time         `json:"processing_completed_at,omitempty"`
	Delivery
	ClaimedBy      *string   `json:"-"`
	ClaimExpiresAt *time.Time `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// JobUpdate carries the fields written together with a status transition.
// Nil pointers leave the column unchanged.
type JobUpdate struct {
	VideoURL            *string
	ThumbnailURL        *string
	ErrorMessage        *string
	ErrorType           *ErrorType
	ErrorRetryable      *bool
	Result              *VideoMetadata
	ProcessingStartedAt *time.Time
}

// BatchUpdate carries the fields written together with a batch transition.
type BatchUpdate struct {
	VideoURL     *string
	ThumbnailURL *string
	ErrorMessage *string
	Metadata     *VideoMetadata
}

// ComposedVideoResult is what the composition engine hands back.
type ComposedVideoResult struct {
	VideoURL     string `json:"videoUrl"`
	ThumbnailURL string `json:"thumbnailUrl"`
	Duration     int    `json:"duration"`
	FileSize     int64  `json:"fileSize"`
}

// ProviderCallback is the provider's completion message, as received.
type ProviderCallback struct {
	RequestID string           `json:"request_id" validate:"required"`
	Status    string           `json:"status" validate:"required"`
	Payload   *CallbackPayload `json:"payload,omitempty"`
	Error     string           `json:"error,omitempty"`
	// JobID comes from the callback URL query, not the body.
	JobID string `json:"job_id,omitempty"`
}

type CallbackPayload struct {
	Video *CallbackVideo `json:"video,omitempty"`
}

type CallbackVideo struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Metadata    struct {
		Duration float64 `json:"duration,omitempty"`
	} `json:"metadata"`
}

// Callback statuses sent by the provider.
const (
	CallbackStatusOK    = "OK"
	CallbackStatusError = "ERROR"
)

// Succeeded reports whether the callback carries a usable clip.
func (c ProviderCallback) Succeeded() bool {
	return c.Status != CallbackStatusError && c.Payload != nil && c.Payload.Video != nil && c.Payload.Video.URL != ""
}

// VideoURL returns the raw clip URL, or "" for failure callbacks.
func (c ProviderCallback) VideoURL() string {
	if !c.Succeeded() {
		return ""
	}
	return c.Payload.Video.URL
}

func scanJSON(value interface{}, dst interface{}) error {
	if value == nil {
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
