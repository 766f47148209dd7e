// Package pipeline drives a listing video from fan-out to the final webhook.
// It owns every row mutation; the services it calls only read inputs and
// return results.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobarin/listingreel/internal/models"
	"github.com/bobarin/listingreel/internal/notify"
	"github.com/bobarin/listingreel/internal/planner"
	"github.com/bobarin/listingreel/internal/services"
	"github.com/bobarin/listingreel/internal/storage"
)

// Store is the job state store. Every status write is a compare-and-set.
type Store interface {
	CreateBatch(ctx context.Context, batch *models.VideoBatch, jobs []*models.GenerationJob) error
	GetBatch(ctx context.Context, id uuid.UUID) (*models.VideoBatch, error)
	CompareAndSetBatchStatus(ctx context.Context, id uuid.UUID, from []models.BatchStatus, to models.BatchStatus, upd models.BatchUpdate) (bool, error)
	RecordBatchDelivery(ctx context.Context, id uuid.UUID, d models.Delivery) error

	GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error)
	FindJobByRequestID(ctx context.Context, requestID string) (*models.GenerationJob, error)
	ListBatchJobs(ctx context.Context, batchID uuid.UUID) ([]models.GenerationJob, error)
	SetJobRequestID(ctx context.Context, id uuid.UUID, requestID string) error
	MarkCallbackReceived(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	CompareAndSetJobStatus(ctx context.Context, id uuid.UUID, from []models.JobStatus, to models.JobStatus, upd models.JobUpdate) (bool, error)
	TryClaimJob(ctx context.Context, id uuid.UUID, owner string, ttl time.Duration) (bool, error)
	ReleaseJobClaim(ctx context.Context, id uuid.UUID, owner string) error
	CancelBatchJobs(ctx context.Context, batchID uuid.UUID) (int, error)
	RecordJobDelivery(ctx context.Context, id uuid.UUID, d models.Delivery) error
}

// Tasks hands work to background workers and returns the task id.
type Tasks interface {
	EnqueueDispatch(ctx context.Context, batchID uuid.UUID) (string, error)
	EnqueueCompose(ctx context.Context, batchID uuid.UUID) (string, error)
}

// Provider generates clips and fetches the raw results it produced.
type Provider interface {
	Submit(ctx context.Context, req services.SubmitRequest) (string, error)
	Download(ctx context.Context, clipURL string) ([]byte, error)
}

type MediaEngine interface {
	ProcessRaw(ctx context.Context, data []byte, aspectRatio string) (*services.ProcessedClip, error)
}

type Composer interface {
	Compose(ctx context.Context, in services.CompositionInput) (*models.ComposedVideoResult, error)
}

type Notifier interface {
	Send(ctx context.Context, d notify.Delivery) (notify.Result, error)
}

// Budget is the retry allowance for one class of outbound webhook.
type Budget struct {
	MaxRetries int
	Backoff    time.Duration
}

type Options struct {
	// PublicBaseURL is where the provider reaches /webhooks/provider.
	PublicBaseURL string
	// CallbackURL receives outbound webhooks. Empty disables them.
	CallbackURL    string
	CallbackSecret string

	DispatchConcurrency     int
	EnablePrioritySecondary bool
	ClaimTTL                time.Duration
	MaxConcurrentUploads    int

	JobBudget   Budget
	BatchBudget Budget
}

// Deps are the collaborators built in main.
type Deps struct {
	Store    Store
	Tasks    Tasks
	Planner  *planner.Planner
	Provider Provider
	Media    MediaEngine
	Composer Composer
	Storage  storage.Backend
	Notifier Notifier
}

type Pipeline struct {
	Deps
	opts      Options
	log       zerolog.Logger
	now       func() time.Time
	uploadSem chan struct{}
}

func New(deps Deps, opts Options, logger zerolog.Logger) *Pipeline {
	if opts.DispatchConcurrency < 1 {
		opts.DispatchConcurrency = 1
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = 15 * time.Minute
	}
	if opts.MaxConcurrentUploads < 1 {
		opts.MaxConcurrentUploads = 4
	}
	if opts.JobBudget.MaxRetries == 0 {
		opts.JobBudget = Budget{MaxRetries: 3, Backoff: time.Second}
	}
	if opts.BatchBudget.MaxRetries == 0 {
		opts.BatchBudget = Budget{MaxRetries: 6, Backoff: 2 * time.Second}
	}

	return &Pipeline{
		Deps:      deps,
		opts:      opts,
		log:       logger.With().Str("component", "pipeline").Logger(),
		now:       time.Now,
		uploadSem: make(chan struct{}, opts.MaxConcurrentUploads),
	}
}

// webhookURL is the provider callback URL for one job.
func (p *Pipeline) webhookURL(jobID uuid.UUID) string {
	return strings.TrimRight(p.opts.PublicBaseURL, "/") + "/webhooks/provider?job_id=" + jobID.String()
}

// uploadWithLimit bounds concurrent uploads across all callbacks this
// process is finalizing.
func (p *Pipeline) uploadWithLimit(ctx context.Context, label string, fn func() error) error {
	select {
	case p.uploadSem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("upload cancelled while waiting for slot: %w", ctx.Err())
	}
	defer func() { <-p.uploadSem }()

	p.log.Debug().Str("upload", label).Msg("uploading")
	return fn()
}

func scopeOf(batch *models.VideoBatch) storage.Scope {
	return storage.Scope{OwnerID: batch.OwnerID, ListingID: batch.ListingID, BatchID: batch.ID}
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

func timePtr(t time.Time) *time.Time { return &t }

func errorTypePtr(t models.ErrorType) *models.ErrorType { return &t }
