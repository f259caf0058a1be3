package service

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/lodestone-ai/lodestone/internal/domain"
	"golang.org/x/sync/errgroup"
)

// EmbeddingClient defines the provider interface for batch embedding
// generation.
type EmbeddingClient interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedConfig controls batching and retry behavior for the embedder
type EmbedConfig struct {
	// Version tags every vector produced by this embedder. Changing the
	// model or normalization requires bumping it.
	Version     string
	BatchSize   int
	MaxAttempts int
	// Concurrency bounds how many batches of one document embed in parallel
	Concurrency int
	BaseBackoff time.Duration
}

// DefaultEmbedConfig provides sane defaults for the embedder
func DefaultEmbedConfig(version string) EmbedConfig {
	return EmbedConfig{
		Version:     version,
		BatchSize:   96,
		MaxAttempts: 3,
		Concurrency: 4,
		BaseBackoff: 500 * time.Millisecond,
	}
}

// Embedder maps chunk texts to unit-length vectors, batched and
// order-preserving. A batch either fully succeeds or the whole call fails;
// partial batch results are never committed.
type Embedder struct {
	client EmbeddingClient
	cfg    EmbedConfig
	sleep  func(context.Context, time.Duration) error
}

// NewEmbedder creates an Embedder with the given client and configuration
func NewEmbedder(client EmbeddingClient, cfg EmbedConfig) *Embedder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 96
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	return &Embedder{
		client: client,
		cfg:    cfg,
		sleep:  sleepCtx,
	}
}

// Version returns the embedding version tag for vectors from this embedder
func (e *Embedder) Version() string {
	return e.cfg.Version
}

// EmbedTexts embeds texts in configured batches, preserving input order.
// Batches run in parallel up to the configured concurrency; each batch is
// retried on transient failure with exponential backoff and jitter.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end

		g.Go(func() error {
			batch, err := e.embedBatchWithRetry(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range vectors {
		vectors[i] = Normalize(vectors[i])
	}
	return vectors, nil
}

func (e *Embedder) embedBatchWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		vectors, err := e.client.EmbedBatch(ctx, batch)
		if err == nil {
			if len(vectors) != len(batch) {
				return nil, domain.NewDomainError(domain.ErrCodeEmbedding, "embedding batch size mismatch")
			}
			return vectors, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !domain.IsTransient(err) {
			break
		}
		if attempt < e.cfg.MaxAttempts {
			if err := e.sleep(ctx, backoffWithJitter(e.cfg.BaseBackoff, attempt)); err != nil {
				return nil, err
			}
		}
	}
	return nil, domain.NewDomainErrorWithCause(domain.ErrCodeEmbedding,
		fmt.Sprintf("embedding batch failed after %d attempts", e.cfg.MaxAttempts), lastErr)
}

// Normalize scales a vector to unit length so the index can use
// cosine-equivalent dot-product search uniformly.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func backoffWithJitter(base time.Duration, attempt int) time.Duration {
	backoff := base << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
	return backoff + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
