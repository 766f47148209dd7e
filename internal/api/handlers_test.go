package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobarin/listingreel/internal/apperr"
	"github.com/bobarin/listingreel/internal/db"
	"github.com/bobarin/listingreel/internal/models"
)

const testAPIKey = "k-123"

type fakeBatches struct {
	req      *models.CreateBatchRequest
	startErr error
	canceled []uuid.UUID
}

func (f *fakeBatches) StartGeneration(ctx context.Context, req models.CreateBatchRequest) (*models.CreateBatchResponse, error) {
	f.req = &req
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &models.CreateBatchResponse{BatchID: uuid.NewString(), Status: models.BatchStatusPending, JobCount: 2, TaskID: "task-1"}, nil
}

func (f *fakeBatches) CancelBatch(ctx context.Context, id uuid.UUID) (*models.VideoBatch, error) {
	f.canceled = append(f.canceled, id)
	return &models.VideoBatch{ID: id, Status: models.BatchStatusCanceled}, nil
}

func newAPI(t *testing.T, checks map[string]HealthCheck) (http.Handler, *fakeBatches, *db.Memory) {
	t.Helper()
	svc := &fakeBatches{}
	store := db.NewMemory()
	h := NewHandler(svc, store, checks, zerolog.Nop())
	return NewRouter(h, RouterConfig{BackendAPIKey: testAPIKey, Logger: zerolog.Nop()}), svc, store
}

func call(router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAPIKeyRequired(t *testing.T) {
	router, _, _ := newAPI(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/batches/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without key, got %d", rec.Code)
	}

	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 with wrong key, got %d", rec.Code)
	}
}

func TestCreateBatch(t *testing.T) {
	router, svc, _ := newAPI(t, nil)

	rec := call(router, http.MethodPost, "/v1/batches", map[string]interface{}{
		"listingId":       "l-1",
		"ownerId":         "o-1",
		"primaryImageUrl": "https://cdn.example.com/front.jpg",
		"images":          []map[string]interface{}{{"url": "https://cdn.example.com/k.jpg", "category": "kitchen"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp models.CreateBatchResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.TaskID != "task-1" || resp.JobCount != 2 {
		t.Errorf("unexpected response %+v", resp)
	}
	if svc.req == nil || svc.req.ListingID != "l-1" || len(svc.req.Images) != 1 {
		t.Errorf("request not forwarded: %+v", svc.req)
	}
}

func TestCreateBatchErrors(t *testing.T) {
	router, svc, _ := newAPI(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/batches", bytes.NewBufferString("{"))
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad json, got %d", rec.Code)
	}

	svc.startErr = apperr.Validation("no_rooms", "listing has no categorized images")
	rec = call(router, http.MethodPost, "/v1/batches", map[string]string{"listingId": "l"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["code"] != "no_rooms" {
		t.Errorf("expected error code in body, got %v", body)
	}

	svc.startErr = errors.New("connection refused")
	rec = call(router, http.MethodPost, "/v1/batches", map[string]string{"listingId": "l"})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestGetBatch(t *testing.T) {
	router, _, store := newAPI(t, nil)
	batch := &models.VideoBatch{ID: uuid.New(), ListingID: "l-1", OwnerID: "o-1", Status: models.BatchStatusPending}
	jobs := []*models.GenerationJob{
		{ID: uuid.New(), VideoBatchID: batch.ID, Status: models.JobStatusPending, Settings: models.GenerationSettings{SortOrder: 1}},
		{ID: uuid.New(), VideoBatchID: batch.ID, Status: models.JobStatusPending, Settings: models.GenerationSettings{SortOrder: 0}},
	}
	if err := store.CreateBatch(context.Background(), batch, jobs); err != nil {
		t.Fatal(err)
	}

	rec := call(router, http.MethodGet, "/v1/batches/"+batch.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got struct {
		ID   uuid.UUID `json:"id"`
		Jobs []struct {
			ID uuid.UUID `json:"id"`
		} `json:"jobs"`
	}
	json.NewDecoder(rec.Body).Decode(&got)
	if got.ID != batch.ID || len(got.Jobs) != 2 || got.Jobs[0].ID != jobs[1].ID {
		t.Errorf("unexpected batch response %+v", got)
	}

	rec = call(router, http.MethodGet, "/v1/batches/"+batch.ID.String()+"/jobs", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for jobs, got %d", rec.Code)
	}

	if rec := call(router, http.MethodGet, "/v1/batches/"+uuid.NewString(), nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := call(router, http.MethodGet, "/v1/batches/not-a-uuid/jobs", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestCancelBatch(t *testing.T) {
	router, svc, _ := newAPI(t, nil)
	id := uuid.New()

	rec := call(router, http.MethodPost, "/v1/batches/"+id.String()+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(svc.canceled) != 1 || svc.canceled[0] != id {
		t.Errorf("cancel not forwarded: %v", svc.canceled)
	}
}

func TestHealth(t *testing.T) {
	router, _, _ := newAPI(t, map[string]HealthCheck{
		"database": func(ctx context.Context) error { return nil },
	})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 without an API key, got %d", rec.Code)
	}

	router, _, _ = newAPI(t, map[string]HealthCheck{
		"redis": func(ctx context.Context) error { return errors.New("down") },
	})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when a dependency is down, got %d", rec.Code)
	}
}
