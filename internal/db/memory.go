package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/listingreel/internal/apperr"
	"github.com/bobarin/listingreel/internal/models"
)

// Memory is an in-process store with the same compare-and-set semantics as
// DB. Every method holds one mutex, so each call is atomic.
type Memory struct {
	mu      sync.Mutex
	batches map[uuid.UUID]*models.VideoBatch
	jobs    map[uuid.UUID]*models.GenerationJob
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		batches: make(map[uuid.UUID]*models.VideoBatch),
		jobs:    make(map[uuid.UUID]*models.GenerationJob),
		now:     time.Now,
	}
}

// SetClock replaces the time source used for claims and timestamps.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) CreateBatch(ctx context.Context, batch *models.VideoBatch, jobs []*models.GenerationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	batch.CreatedAt, batch.UpdatedAt = now, now
	b := *batch
	m.batches[batch.ID] = &b

	for _, job := range jobs {
		job.CreatedAt, job.UpdatedAt = now, now
		j := *job
		m.jobs[job.ID] = &j
	}
	return nil
}

func (m *Memory) GetBatch(ctx context.Context, id uuid.UUID) (*models.VideoBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok {
		return nil, apperr.NotFound("batch")
	}
	out := *b
	return &out, nil
}

func (m *Memory) CompareAndSetBatchStatus(ctx context.Context, id uuid.UUID, from []models.BatchStatus, to models.BatchStatus, upd models.BatchUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok || !containsBatchStatus(from, b.Status) {
		return false, nil
	}
	b.Status = to
	if upd.VideoURL != nil {
		b.VideoURL = upd.VideoURL
	}
	if upd.ThumbnailURL != nil {
		b.ThumbnailURL = upd.ThumbnailURL
	}
	if upd.ErrorMessage != nil {
		b.ErrorMessage = upd.ErrorMessage
	}
	if upd.Metadata != nil {
		b.Metadata = *upd.Metadata
	}
	b.UpdatedAt = m.now()
	return true, nil
}

func (m *Memory) RecordBatchDelivery(ctx context.Context, id uuid.UUID, d models.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.batches[id]; ok {
		applyDelivery(&b.Delivery, d)
	}
	return nil
}

func (m *Memory) GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, apperr.NotFound("job")
	}
	out := *j
	return &out, nil
}

func (m *Memory) FindJobByRequestID(ctx context.Context, requestID string) (*models.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, j := range m.jobs {
		if j.RequestID != nil && *j.RequestID == requestID {
			out := *j
			return &out, nil
		}
	}
	return nil, apperr.NotFound("job")
}

func (m *Memory) ListBatchJobs(ctx context.Context, batchID uuid.UUID) ([]models.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var jobs []models.GenerationJob
	for _, j := range m.jobs {
		if j.VideoBatchID == batchID {
			jobs = append(jobs, *j)
		}
	}
	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].Settings.SortOrder < jobs[b].Settings.SortOrder
	})
	return jobs, nil
}

func (m *Memory) SetJobRequestID(ctx context.Context, id uuid.UUID, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok || j.RequestID != nil {
		return nil
	}
	rid := requestID
	j.RequestID = &rid
	j.UpdatedAt = m.now()
	return nil
}

func (m *Memory) MarkCallbackReceived(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok || j.ProcessingCompletedAt != nil {
		return false, nil
	}
	j.ProcessingCompletedAt = &at
	return true, nil
}

func (m *Memory) CompareAndSetJobStatus(ctx context.Context, id uuid.UUID, from []models.JobStatus, to models.JobStatus, upd models.JobUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok || !containsJobStatus(from, j.Status) {
		return false, nil
	}
	j.Status = to
	if upd.VideoURL != nil {
		j.VideoURL = upd.VideoURL
	}
	if upd.ThumbnailURL != nil {
		j.ThumbnailURL = upd.ThumbnailURL
	}
	if upd.ErrorMessage != nil {
		j.ErrorMessage = upd.ErrorMessage
	}
	if upd.ErrorType != nil {
		j.ErrorType = upd.ErrorType
	}
	if upd.ErrorRetryable != nil {
		j.ErrorRetryable = *upd.ErrorRetryable
	}
	if upd.Result != nil {
		j.Result = *upd.Result
	}
	if upd.ProcessingStartedAt != nil {
		j.ProcessingStartedAt = upd.ProcessingStartedAt
	}
	j.UpdatedAt = m.now()
	return true, nil
}

func (m *Memory) TryClaimJob(ctx context.Context, id uuid.UUID, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok || j.Status.IsSettled() {
		return false, nil
	}
	now := m.now()
	if j.ClaimedBy != nil && *j.ClaimedBy != owner && j.ClaimExpiresAt != nil && j.ClaimExpiresAt.After(now) {
		return false, nil
	}
	o := owner
	expires := now.Add(ttl)
	j.ClaimedBy, j.ClaimExpiresAt = &o, &expires
	return true, nil
}

func (m *Memory) ReleaseJobClaim(ctx context.Context, id uuid.UUID, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j, ok := m.jobs[id]; ok && j.ClaimedBy != nil && *j.ClaimedBy == owner {
		j.ClaimedBy, j.ClaimExpiresAt = nil, nil
	}
	return nil
}

func (m *Memory) CancelBatchJobs(ctx context.Context, batchID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, j := range m.jobs {
		if j.VideoBatchID == batchID && containsJobStatus(models.JobOpenStatuses, j.Status) {
			j.Status = models.JobStatusCanceled
			j.UpdatedAt = m.now()
			n++
		}
	}
	return n, nil
}

func (m *Memory) RecordJobDelivery(ctx context.Context, id uuid.UUID, d models.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j, ok := m.jobs[id]; ok {
		applyDelivery(&j.Delivery, d)
	}
	return nil
}

func applyDelivery(dst *models.Delivery, d models.Delivery) {
	dst.WebhookAttempts += d.WebhookAttempts
	dst.WebhookLastError = d.WebhookLastError
	if d.WebhookDeliveredAt != nil {
		dst.WebhookDeliveredAt = d.WebhookDeliveredAt
	}
}

func containsJobStatus(set []models.JobStatus, s models.JobStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsBatchStatus(set []models.BatchStatus, s models.BatchStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
