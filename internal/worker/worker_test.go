package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobarin/listingreel/internal/models"
	"github.com/bobarin/listingreel/internal/queue"
)

type fakeQueue struct {
	mu       sync.Mutex
	tasks    map[string][]*queue.Task
	requeued []*queue.Task
}

func (f *fakeQueue) push(name string, t *queue.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[name] = append(f.tasks[name], t)
}

func (f *fakeQueue) Dequeue(ctx context.Context, name string, timeout time.Duration) (*queue.Task, error) {
	f.mu.Lock()
	if len(f.tasks[name]) > 0 {
		t := f.tasks[name][0]
		f.tasks[name] = f.tasks[name][1:]
		f.mu.Unlock()
		return t, nil
	}
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return nil, nil
	}
}

func (f *fakeQueue) Requeue(ctx context.Context, name string, t *queue.Task) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.Attempt+1 >= queue.MaxAttempts {
		return false, nil
	}
	t.Attempt++
	f.requeued = append(f.requeued, t)
	f.tasks[name] = append(f.tasks[name], t)
	return true, nil
}

type fakePipeline struct {
	mu         sync.Mutex
	dispatched []uuid.UUID
	callbacks  []string
	composed   int
	composeErr error
}

func (f *fakePipeline) Dispatch(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, id)
	return nil
}

func (f *fakePipeline) HandleCallback(ctx context.Context, cb models.ProviderCallback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, cb.RequestID)
	return nil
}

func (f *fakePipeline) Compose(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.composed++
	return f.composeErr
}

func runFor(w *Worker, d time.Duration, queues ...string) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	w.Start(ctx, 1, queues...)
}

func TestWorkerRoutesTasks(t *testing.T) {
	q := &fakeQueue{tasks: map[string][]*queue.Task{}}
	p := &fakePipeline{}
	batchID := uuid.New()
	q.push(queue.QueueDispatch, &queue.Task{ID: "1", Type: queue.TaskDispatch, BatchID: &batchID})
	q.push(queue.QueueCallback, &queue.Task{ID: "2", Type: queue.TaskCallback, Callback: &models.ProviderCallback{RequestID: "req-9"}})
	q.push(queue.QueueCompose, &queue.Task{ID: "3", Type: queue.TaskCompose, BatchID: &batchID})

	w := New(p, q, zerolog.Nop())
	runFor(w, 100*time.Millisecond, queue.QueueDispatch, queue.QueueCallback, queue.QueueCompose)

	if len(p.dispatched) != 1 || p.dispatched[0] != batchID {
		t.Errorf("dispatch not routed: %v", p.dispatched)
	}
	if len(p.callbacks) != 1 || p.callbacks[0] != "req-9" {
		t.Errorf("callback not routed: %v", p.callbacks)
	}
	if p.composed != 1 {
		t.Errorf("compose not routed: %d", p.composed)
	}
}

func TestWorkerRequeuesFailuresUpToMaxAttempts(t *testing.T) {
	q := &fakeQueue{tasks: map[string][]*queue.Task{}}
	p := &fakePipeline{composeErr: errors.New("store unavailable")}
	batchID := uuid.New()
	q.push(queue.QueueCompose, &queue.Task{ID: "c", Type: queue.TaskCompose, BatchID: &batchID})

	w := New(p, q, zerolog.Nop())
	runFor(w, 100*time.Millisecond, queue.QueueCompose)

	if p.composed != queue.MaxAttempts {
		t.Errorf("expected %d attempts, got %d", queue.MaxAttempts, p.composed)
	}
	if len(q.requeued) != queue.MaxAttempts-1 {
		t.Errorf("expected %d requeues, got %d", queue.MaxAttempts-1, len(q.requeued))
	}
}

func TestWorkerSkipsUnknownQueue(t *testing.T) {
	w := New(&fakePipeline{}, &fakeQueue{tasks: map[string][]*queue.Task{}}, zerolog.Nop())
	if _, err := w.handlerFor("queue:unknown"); err == nil {
		t.Error("expected an error for an unknown queue")
	}
}
