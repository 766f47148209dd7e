package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/listingreel/internal/models"
)

func TestDecodeTask(t *testing.T) {
	id := uuid.New()
	task, err := decodeTask([]byte(`{"id":"t1","type":"compose","batch_id":"` + id.String() + `","attempt":1}`))
	if err != nil {
		t.Fatalf("decodeTask failed: %v", err)
	}
	if task.ID != "t1" || *task.BatchID != id || task.Attempt != 1 {
		t.Errorf("unexpected task %+v", task)
	}

	bad := map[string]string{
		"unknown type":      `{"id":"t","type":"render"}`,
		"dispatch no batch": `{"id":"t","type":"dispatch"}`,
		"callback no body":  `{"id":"t","type":"callback"}`,
		"garbage":           `{`,
	}
	for name, raw := range bad {
		if _, err := decodeTask([]byte(raw)); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

// TestRedisRoundTrip runs against a real Redis when REDIS_URL is set.
func TestRedisRoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	q, err := New(url)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer q.Close()

	ctx := context.Background()
	name := "queue:test:" + uuid.NewString()
	defer q.client.Del(ctx, name)

	cb := models.ProviderCallback{RequestID: "req-1", Status: models.CallbackStatusOK, JobID: "j"}
	id, err := q.Enqueue(ctx, name, &Task{Type: TaskCallback, Callback: &cb})
	if err != nil || id == "" {
		t.Fatalf("Enqueue failed: %v", err)
	}

	task, err := q.Dequeue(ctx, name, time.Second)
	if err != nil || task == nil {
		t.Fatalf("Dequeue failed: %v %v", task, err)
	}
	if task.ID != id || task.Callback.RequestID != "req-1" {
		t.Errorf("unexpected task %+v", task)
	}

	for i := 0; i < MaxAttempts-1; i++ {
		ok, err := q.Requeue(ctx, name, task)
		if err != nil || !ok {
			t.Fatalf("Requeue %d failed: %v", i, err)
		}
		task, _ = q.Dequeue(ctx, name, time.Second)
	}
	if ok, _ := q.Requeue(ctx, name, task); ok {
		t.Error("task should be dropped after MaxAttempts")
	}
}
