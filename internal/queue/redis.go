package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lodestone-ai/lodestone/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPendingKey    = "lodestone:ingest:pending"
	defaultProcessingKey = "lodestone:ingest:processing"
	defaultBlockTimeout  = 5 * time.Second
)

// RedisQueue is a reliable queue over Redis lists: jobs move atomically from
// the pending list to a processing list on dequeue (BRPOPLPUSH) and are
// removed from the processing list on ack. Jobs left in the processing list
// by a crashed worker are requeued by Recover.
type RedisQueue struct {
	client        *redis.Client
	pendingKey    string
	processingKey string
	blockTimeout  time.Duration
}

// NewRedisQueue creates a RedisQueue from a redis URL
func NewRedisQueue(url string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return NewRedisQueueWithClient(redis.NewClient(opts)), nil
}

// NewRedisQueueWithClient creates a RedisQueue over an existing client
func NewRedisQueueWithClient(client *redis.Client) *RedisQueue {
	return &RedisQueue{
		client:        client,
		pendingKey:    defaultPendingKey,
		processingKey: defaultProcessingKey,
		blockTimeout:  defaultBlockTimeout,
	}
}

// Enqueue publishes a job for processing
func (q *RedisQueue) Enqueue(ctx context.Context, job *domain.IngestionJob) error {
	if err := domain.ValidateIngestionJob(job); err != nil {
		return err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return q.client.LPush(ctx, q.pendingKey, payload).Err()
}

// Dequeue blocks until a job is available or ctx is done
func (q *RedisQueue) Dequeue(ctx context.Context) (*domain.IngestionJob, AckFunc, error) {
	for {
		payload, err := q.client.BRPopLPush(ctx, q.pendingKey, q.processingKey, q.blockTimeout).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				select {
				case <-ctx.Done():
					return nil, nil, ctx.Err()
				default:
					continue
				}
			}
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			return nil, nil, fmt.Errorf("failed to dequeue job: %w", err)
		}

		var job domain.IngestionJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			// drop the malformed payload so it does not loop forever
			q.client.LRem(ctx, q.processingKey, 1, payload)
			return nil, nil, fmt.Errorf("failed to unmarshal job: %w", err)
		}

		ack := func(ctx context.Context) error {
			return q.client.LRem(ctx, q.processingKey, 1, payload).Err()
		}
		return &job, ack, nil
	}
}

// Recover moves any jobs stranded in the processing list back to pending.
// Called once at worker startup.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := q.client.RPopLPush(ctx, q.processingKey, q.pendingKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return moved, nil
			}
			return moved, fmt.Errorf("failed to recover stranded jobs: %w", err)
		}
		moved++
	}
}
