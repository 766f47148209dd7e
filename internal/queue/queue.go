package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/bobarin/listingreel/internal/models"
)

const (
	QueueDispatch = "queue:dispatch"
	QueueCallback = "queue:callback"
	QueueCompose  = "queue:compose"
)

const (
	TaskDispatch = "dispatch"
	TaskCallback = "callback"
	TaskCompose  = "compose"
)

// MaxAttempts bounds how often a failing task is put back on its queue.
const MaxAttempts = 3

type Queue struct {
	client *redis.Client
}

// Task is one unit of background work. BatchID is set for dispatch and
// compose, Callback for callback tasks.
type Task struct {
	ID        string                   `json:"id"`
	Type      string                   `json:"type"`
	BatchID   *uuid.UUID               `json:"batch_id,omitempty"`
	Callback  *models.ProviderCallback `json:"callback,omitempty"`
	Attempt   int                      `json:"attempt"`
	CreatedAt time.Time                `json:"created_at"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// Ping reports whether Redis is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Enqueue pushes a task and returns its id, assigning one if needed.
func (q *Queue) Enqueue(ctx context.Context, queueName string, task *Task) (string, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	data, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := q.client.RPush(ctx, queueName, data).Err(); err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", task.Type, err)
	}
	return task.ID, nil
}

// Dequeue blocks up to timeout for the next task. A nil task means none arrived.
func (q *Queue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Task, error) {
	result, err := q.client.BLPop(ctx, timeout, queueName).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	return decodeTask([]byte(result[1]))
}

// Requeue puts a failed task back with its attempt counter bumped. It
// reports false once the task has used up MaxAttempts.
func (q *Queue) Requeue(ctx context.Context, queueName string, task *Task) (bool, error) {
	if task.Attempt+1 >= MaxAttempts {
		return false, nil
	}
	task.Attempt++
	if _, err := q.Enqueue(ctx, queueName, task); err != nil {
		return false, err
	}
	return true, nil
}

func (q *Queue) GetQueueLength(ctx context.Context, queueName string) (int64, error) {
	return q.client.LLen(ctx, queueName).Result()
}

// EnqueueDispatch schedules provider submission for a batch.
func (q *Queue) EnqueueDispatch(ctx context.Context, batchID uuid.UUID) (string, error) {
	return q.Enqueue(ctx, QueueDispatch, &Task{Type: TaskDispatch, BatchID: &batchID})
}

// EnqueueCallback hands a verified provider callback to the ingest worker.
func (q *Queue) EnqueueCallback(ctx context.Context, cb models.ProviderCallback) (string, error) {
	return q.Enqueue(ctx, QueueCallback, &Task{Type: TaskCallback, Callback: &cb})
}

// EnqueueCompose schedules final composition for a batch.
func (q *Queue) EnqueueCompose(ctx context.Context, batchID uuid.UUID) (string, error) {
	return q.Enqueue(ctx, QueueCompose, &Task{Type: TaskCompose, BatchID: &batchID})
}

func decodeTask(data []byte) (*Task, error) {
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	switch task.Type {
	case TaskDispatch, TaskCompose:
		if task.BatchID == nil {
			return nil, fmt.Errorf("%s task %s has no batch id", task.Type, task.ID)
		}
	case TaskCallback:
		if task.Callback == nil {
			return nil, fmt.Errorf("callback task %s has no body", task.ID)
		}
	default:
		return nil, fmt.Errorf("unknown task type %q", task.Type)
	}
	return &task, nil
}
