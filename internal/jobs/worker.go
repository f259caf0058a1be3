package jobs

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/lodestone-ai/lodestone/internal/domain"
	"github.com/lodestone-ai/lodestone/internal/queue"
)

// defaultRetryDelay paces lock-contention requeues and dequeue retries.
const defaultRetryDelay = 2 * time.Second

// JobProcessor defines the interface for processing ingestion jobs
type JobProcessor interface {
	Process(ctx context.Context, job *domain.IngestionJob) error
}

// Worker runs a bounded pool of goroutines that dequeue ingestion jobs and
// process them. Each document's pipeline run is an independent unit of work;
// the per-document advisory lock inside the processor keeps two workers from
// advancing the same document.
type Worker struct {
	queue      queue.Queue
	processor  JobProcessor
	count      int
	retryDelay time.Duration
	wg         sync.WaitGroup
}

// NewWorker creates a Worker with count goroutines
func NewWorker(q queue.Queue, processor JobProcessor, count int) *Worker {
	if count <= 0 {
		count = 1
	}
	return &Worker{
		queue:      q,
		processor:  processor,
		count:      count,
		retryDelay: defaultRetryDelay,
	}
}

// Start launches the worker pool. It returns immediately; call Wait to block
// until all workers have stopped after ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	log.Printf("starting %d ingestion workers", w.count)
	for i := 0; i < w.count; i++ {
		w.wg.Add(1)
		go func(id int) {
			defer w.wg.Done()
			w.loop(ctx, id)
		}(i)
	}
}

// Wait blocks until all workers have exited
func (w *Worker) Wait() {
	w.wg.Wait()
	log.Println("ingestion workers stopped")
}

func (w *Worker) loop(ctx context.Context, id int) {
	for {
		job, ack, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrClosed) {
				return
			}
			log.Printf("worker %d: dequeue failed: %v", id, err)
			// a queue outage must not spin the loop hot
			if !w.pause(ctx) {
				return
			}
			continue
		}

		if err := w.processor.Process(ctx, job); err != nil {
			if errors.Is(err, domain.ErrDocumentLocked) {
				// another worker owns this document right now
				log.Printf("worker %d: document %s locked, requeueing job %s", id, job.DocumentID, job.ID)
				w.requeue(ctx, job, ack, id)
				continue
			}
			log.Printf("worker %d: job %s failed: %v", id, job.ID, err)
			continue
		}

		// document-level failures were recorded on the document, so the job
		// is done either way
		if err := ack(ctx); err != nil {
			log.Printf("worker %d: failed to ack job %s: %v", id, job.ID, err)
		}
	}
}

// requeue publishes a fresh delivery after a short pause and acks the current
// one. The enqueue happens before the ack so the job survives an enqueue
// failure as an unacked delivery.
func (w *Worker) requeue(ctx context.Context, job *domain.IngestionJob, ack queue.AckFunc, id int) {
	if !w.pause(ctx) {
		// shutting down; the unacked delivery is recovered on restart
		return
	}
	job.Attempt++
	if err := w.queue.Enqueue(ctx, job); err != nil {
		log.Printf("worker %d: failed to requeue job %s: %v", id, job.ID, err)
		return
	}
	if err := ack(ctx); err != nil {
		log.Printf("worker %d: failed to ack job %s after requeue: %v", id, job.ID, err)
	}
}

// pause sleeps for the retry delay, returning false when ctx ends first
func (w *Worker) pause(ctx context.Context) bool {
	if w.retryDelay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(w.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
