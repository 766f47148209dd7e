package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobarin/listingreel/internal/models"
	"github.com/bobarin/listingreel/internal/queue"
)

// Pipeline is the work the background queues feed.
type Pipeline interface {
	Dispatch(ctx context.Context, batchID uuid.UUID) error
	HandleCallback(ctx context.Context, cb models.ProviderCallback) error
	Compose(ctx context.Context, batchID uuid.UUID) error
}

type TaskQueue interface {
	Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*queue.Task, error)
	Requeue(ctx context.Context, queueName string, task *queue.Task) (bool, error)
}

type Worker struct {
	pipeline    Pipeline
	queue       TaskQueue
	log         zerolog.Logger
	pollTimeout time.Duration
	// errorBackoff keeps a broken Redis connection from spinning the loop.
	errorBackoff time.Duration
}

func New(p Pipeline, q TaskQueue, logger zerolog.Logger) *Worker {
	return &Worker{
		pipeline:     p,
		queue:        q,
		log:          logger.With().Str("component", "worker").Logger(),
		pollTimeout:  5 * time.Second,
		errorBackoff: time.Second,
	}
}

// Start runs concurrency consumers for each named queue and blocks until
// ctx is done and every consumer has returned.
func (w *Worker) Start(ctx context.Context, concurrency int, queues ...string) {
	if concurrency < 1 {
		concurrency = 1
	}
	w.log.Info().Int("concurrency", concurrency).Strs("queues", queues).Msg("worker started")

	var wg sync.WaitGroup
	for _, name := range queues {
		handler, err := w.handlerFor(name)
		if err != nil {
			w.log.Error().Err(err).Msg("skipping queue")
			continue
		}
		for i := 0; i < concurrency; i++ {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				w.processQueue(ctx, name, handler)
			}(name)
		}
	}

	<-ctx.Done()
	w.log.Info().Msg("worker shutting down")
	wg.Wait()
}

func (w *Worker) handlerFor(queueName string) (func(context.Context, *queue.Task) error, error) {
	switch queueName {
	case queue.QueueDispatch:
		return w.handleDispatch, nil
	case queue.QueueCallback:
		return w.handleCallback, nil
	case queue.QueueCompose:
		return w.handleCompose, nil
	default:
		return nil, fmt.Errorf("no handler for queue %s", queueName)
	}
}

func (w *Worker) processQueue(ctx context.Context, queueName string, handler func(context.Context, *queue.Task) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := w.queue.Dequeue(ctx, queueName, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Str("queue", queueName).Msg("error dequeuing")
			w.pause(ctx)
			continue
		}
		if task == nil {
			continue
		}

		logger := w.log.With().Str("task_id", task.ID).Str("type", task.Type).Int("attempt", task.Attempt).Logger()
		logger.Debug().Msg("processing task")

		started := time.Now()
		if err := handler(ctx, task); err != nil {
			logger.Error().Err(err).Msg("task failed")
			requeued, qErr := w.queue.Requeue(ctx, queueName, task)
			switch {
			case qErr != nil:
				logger.Error().Err(qErr).Msg("failed to requeue task")
			case !requeued:
				logger.Warn().Msg("task dropped after max attempts")
			}
			continue
		}
		logger.Info().Dur("took", time.Since(started)).Msg("task completed")
	}
}

func (w *Worker) pause(ctx context.Context) {
	t := time.NewTimer(w.errorBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *Worker) handleDispatch(ctx context.Context, task *queue.Task) error {
	return w.pipeline.Dispatch(ctx, *task.BatchID)
}

func (w *Worker) handleCallback(ctx context.Context, task *queue.Task) error {
	return w.pipeline.HandleCallback(ctx, *task.Callback)
}

func (w *Worker) handleCompose(ctx context.Context, task *queue.Task) error {
	return w.pipeline.Compose(ctx, *task.BatchID)
}
