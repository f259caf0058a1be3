package queue

import (
	"context"
	"sync"

	"github.com/lodestone-ai/lodestone/internal/domain"
)

// MemoryQueue is an in-process Queue used in tests and single-node setups
// without Redis. Unacked jobs are redelivered on Redeliver.
type MemoryQueue struct {
	mu       sync.Mutex
	jobs     chan *domain.IngestionJob
	inflight map[string]*domain.IngestionJob
	closed   bool
}

// NewMemoryQueue creates a MemoryQueue with the given buffer size
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{
		jobs:     make(chan *domain.IngestionJob, size),
		inflight: make(map[string]*domain.IngestionJob),
	}
}

// Enqueue publishes a job for processing
func (q *MemoryQueue) Enqueue(ctx context.Context, job *domain.IngestionJob) error {
	if err := domain.ValidateIngestionJob(job); err != nil {
		return err
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.mu.Unlock()

	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until a job is available or ctx is done
func (q *MemoryQueue) Dequeue(ctx context.Context) (*domain.IngestionJob, AckFunc, error) {
	select {
	case job, ok := <-q.jobs:
		if !ok {
			return nil, nil, ErrClosed
		}
		q.mu.Lock()
		q.inflight[job.ID] = job
		q.mu.Unlock()

		ack := func(context.Context) error {
			q.mu.Lock()
			delete(q.inflight, job.ID)
			q.mu.Unlock()
			return nil
		}
		return job, ack, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// Redeliver requeues all unacked jobs, emulating at-least-once delivery
func (q *MemoryQueue) Redeliver(ctx context.Context) error {
	q.mu.Lock()
	pending := make([]*domain.IngestionJob, 0, len(q.inflight))
	for _, job := range q.inflight {
		pending = append(pending, job)
	}
	q.inflight = make(map[string]*domain.IngestionJob)
	q.mu.Unlock()

	for _, job := range pending {
		job.Attempt++
		if err := q.Enqueue(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the queue; pending Dequeue calls return ErrClosed
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}
