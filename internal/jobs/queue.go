// Package jobs runs ingestion work off the request path.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/casefeed/internal/platform/logger"
)

// ErrQueueClosed is returned by Submit once the queue no longer accepts work.
var ErrQueueClosed = errors.New("queue closed")

// Handler processes one submitted file.
type Handler func(ctx context.Context, fileID uuid.UUID) error

// Queue accepts file IDs and runs the handler for each on a worker.
type Queue interface {
	// Submit enqueues fileID and returns the job handle.
	Submit(ctx context.Context, fileID uuid.UUID) (string, error)
	// Start runs the workers until ctx is cancelled or the queue is closed
	// and drained.
	Start(ctx context.Context) error
}

// Job is the unit of work carried by a queue.
type Job struct {
	ID          string    `json:"id"`
	FileID      uuid.UUID `json:"file_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func newJob(fileID uuid.UUID) Job {
	return Job{ID: uuid.NewString(), FileID: fileID, SubmittedAt: time.Now().UTC()}
}

// run executes handler for job, turning a panic into an error.
func run(ctx context.Context, log *logger.Logger, handler Handler, workerID int, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Job handler panic",
				"worker_id", workerID,
				"job_id", job.ID,
				"file_id", job.FileID,
				"panic", r,
			)
			err = fmt.Errorf("job %s panicked: %v", job.ID, r)
		}
	}()

	started := time.Now()
	if err := handler(ctx, job.FileID); err != nil {
		log.Warn("Job failed",
			"worker_id", workerID,
			"job_id", job.ID,
			"file_id", job.FileID,
			"error", err,
		)
		return err
	}
	log.Debug("Job finished",
		"worker_id", workerID,
		"job_id", job.ID,
		"file_id", job.FileID,
		"duration", time.Since(started),
	)
	return nil
}

// JobRecorder stores the job handle on the tracked file.
type JobRecorder interface {
	AttachJob(ctx context.Context, id uuid.UUID, jobID string) error
}

// Dispatcher submits files and records the returned handle.
type Dispatcher struct {
	queue Queue
	files JobRecorder
	log   *logger.Logger
}

func NewDispatcher(queue Queue, files JobRecorder, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{queue: queue, files: files, log: log.With("component", "Dispatcher")}
}

func (d *Dispatcher) Submit(ctx context.Context, fileID uuid.UUID) (string, error) {
	handle, err := d.queue.Submit(ctx, fileID)
	if err != nil {
		return "", fmt.Errorf("failed to submit file %s: %w", fileID, err)
	}
	if err := d.files.AttachJob(ctx, fileID, handle); err != nil {
		// The job is already queued; losing the handle only affects diagnostics.
		d.log.Warn("failed to record job handle", "file_id", fileID, "job_id", handle, "error", err)
	}
	return handle, nil
}
