package jobs

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/casefeed/internal/platform/logger"
)

// MemoryQueue is an in-process queue backed by a buffered channel.
type MemoryQueue struct {
	handler Handler
	workers int
	log     *logger.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan Job
}

// NewMemoryQueue creates a queue with the given worker count and buffer.
func NewMemoryQueue(handler Handler, workers, buffer int, log *logger.Logger) *MemoryQueue {
	if workers < 1 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	if log == nil {
		log = logger.Nop()
	}
	return &MemoryQueue{
		handler: handler,
		workers: workers,
		log:     log.With("component", "MemoryQueue"),
		jobs:    make(chan Job, buffer),
	}
}

func (q *MemoryQueue) Submit(ctx context.Context, fileID uuid.UUID) (string, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return "", ErrQueueClosed
	}

	job := newJob(fileID)
	select {
	case q.jobs <- job:
		return job.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close stops accepting work. Start returns once queued jobs are done.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}

func (q *MemoryQueue) Start(ctx context.Context) error {
	q.log.Info("Starting job worker pool", "concurrency", q.workers)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		workerID := i + 1
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case job, ok := <-q.jobs:
					if !ok {
						return nil
					}
					_ = run(ctx, q.log, q.handler, workerID, job)
				}
			}
		})
	}
	err := g.Wait()
	q.log.Info("Job worker pool stopped")
	return err
}
