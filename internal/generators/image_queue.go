package generators

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when no slot is free for a render.
	ErrQueueFull = errors.New("render queue is full")
	// ErrQueueStopped is returned after Stop.
	ErrQueueStopped = errors.New("render queue is stopped")
)

// RenderJob is one unit of work run by a queue worker.
type RenderJob func(ctx context.Context) error

type queuedJob struct {
	ctx  context.Context
	run  RenderJob
	done chan error
}

// QueueStats is a snapshot of the queue counters.
type QueueStats struct {
	Workers   int   `json:"workers"`
	Pending   int   `json:"pending"`
	InFlight  int64 `json:"in_flight"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

// RenderQueue bounds how many renders run against the image server at once.
type RenderQueue struct {
	jobs    chan *queuedJob
	workers int
	log     *zap.Logger

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	inFlight  atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
}

// NewRenderQueue creates a queue with the given worker count and capacity.
func NewRenderQueue(workers, size int, log *zap.Logger) *RenderQueue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 100
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RenderQueue{
		jobs:    make(chan *queuedJob, size),
		workers: workers,
		log:     log,
		quit:    make(chan struct{}),
	}
}

// Start launches the workers. They exit when ctx is done or Stop is called.
func (q *RenderQueue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

// Stop signals the workers and waits for the running jobs to finish.
func (q *RenderQueue) Stop() {
	q.stopOnce.Do(func() { close(q.quit) })
	q.wg.Wait()
}

// Submit queues job and waits for its result.
func (q *RenderQueue) Submit(ctx context.Context, job RenderJob) error {
	select {
	case <-q.quit:
		return ErrQueueStopped
	default:
	}

	item := &queuedJob{ctx: ctx, run: job, done: make(chan error, 1)}
	select {
	case q.jobs <- item:
	default:
		return ErrQueueFull
	}

	select {
	case err := <-item.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-q.quit:
		return ErrQueueStopped
	}
}

// Stats returns the current counters.
func (q *RenderQueue) Stats() QueueStats {
	return QueueStats{
		Workers:   q.workers,
		Pending:   len(q.jobs),
		InFlight:  q.inFlight.Load(),
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
	}
}

func (q *RenderQueue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.quit:
			return
		case item := <-q.jobs:
			q.run(item, id)
		}
	}
}

func (q *RenderQueue) run(item *queuedJob, worker int) {
	if err := item.ctx.Err(); err != nil {
		item.done <- err
		return
	}

	q.inFlight.Inc()
	err := item.run(item.ctx)
	q.inFlight.Dec()

	q.processed.Inc()
	if err != nil {
		q.failed.Inc()
		q.log.Warn("Render job failed", zap.Int("worker", worker), zap.Error(err))
	}
	item.done <- err
}
