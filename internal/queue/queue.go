// Package queue provides the ingestion job queue capability. Delivery is
// at-least-once: a job that is dequeued but never acked is redelivered, which
// the pipeline's idempotency tolerates by construction.
package queue

import (
	"context"
	"errors"

	"github.com/lodestone-ai/lodestone/internal/domain"
)

// ErrClosed is returned when dequeueing from a closed queue
var ErrClosed = errors.New("queue is closed")

// AckFunc acknowledges a delivered job, removing it from the queue
type AckFunc func(ctx context.Context) error

// Queue is the ingestion job queue capability
type Queue interface {
	// Enqueue publishes a job for processing
	Enqueue(ctx context.Context, job *domain.IngestionJob) error

	// Dequeue blocks until a job is available or ctx is done. The returned
	// AckFunc must be called after successful (or terminally failed)
	// processing; an unacked job is eventually redelivered.
	Dequeue(ctx context.Context) (*domain.IngestionJob, AckFunc, error)
}
