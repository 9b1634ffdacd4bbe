package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/file-annotator/internal/core/domain"
)

var ErrQueueClosed = errors.New("queue closed")

// Queue is an in-process job queue backed by a buffered channel and a bounded
// worker pool. It is used for single-binary deployments and tests.
type Queue struct {
	jobs    chan domain.FileAnalysisJob
	workers int

	mu      sync.RWMutex
	closed  bool
	pending sync.WaitGroup
}

func New(buffer, workers int) *Queue {
	if buffer <= 0 {
		buffer = 256
	}
	if workers <= 0 {
		workers = 4
	}
	return &Queue{
		jobs:    make(chan domain.FileAnalysisJob, buffer),
		workers: workers,
	}
}

// Publish enqueues a job, blocking while the buffer is full.
func (q *Queue) Publish(ctx context.Context, job domain.FileAnalysisJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	q.pending.Add(1)
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		q.pending.Done()
		return domain.WrapError(domain.ErrTemporary, "memory publish", ctx.Err())
	}
}

// Subscribe runs the worker pool until Drain closes the queue. Cancelling ctx
// does not stop the workers: jobs accepted by Publish are always handled, so
// shutdown goes through Drain.
func (q *Queue) Subscribe(ctx context.Context, handler func(context.Context, domain.FileAnalysisJob) error) error {
	var group errgroup.Group
	jobCtx := context.WithoutCancel(ctx)

	for i := 0; i < q.workers; i++ {
		group.Go(func() error {
			for job := range q.jobs {
				if err := handler(jobCtx, job); err != nil {
					slog.Error("job_handler_failed", "file_id", job.FileID, "error", err)
				}
				q.pending.Done()
			}
			return nil
		})
	}
	return group.Wait()
}

// Drain stops accepting jobs and waits until every accepted job was handled or
// ctx expires.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
