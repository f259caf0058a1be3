package service

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/lodestone-ai/lodestone/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockEmbeddingClient is a mock implementation of EmbeddingClient
type MockEmbeddingClient struct {
	mock.Mock
}

func (m *MockEmbeddingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func newTestEmbedder(client EmbeddingClient, cfg EmbedConfig) *Embedder {
	e := NewEmbedder(client, cfg)
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e
}

func TestEmbedTexts_PreservesOrderAcrossBatches(t *testing.T) {
	client := new(MockEmbeddingClient)
	client.On("EmbedBatch", mock.Anything, []string{"a", "b"}).
		Return([][]float32{{1, 0}, {0, 1}}, nil)
	client.On("EmbedBatch", mock.Anything, []string{"c", "d"}).
		Return([][]float32{{0, -1}, {-1, 0}}, nil)

	e := newTestEmbedder(client, EmbedConfig{Version: "v1", BatchSize: 2, MaxAttempts: 3, Concurrency: 2})

	vectors, err := e.EmbedTexts(context.Background(), []string{"a", "b", "c", "d"})

	require.NoError(t, err)
	require.Len(t, vectors, 4)
	assert.Equal(t, []float32{1, 0}, vectors[0])
	assert.Equal(t, []float32{0, 1}, vectors[1])
	assert.Equal(t, []float32{0, -1}, vectors[2])
	assert.Equal(t, []float32{-1, 0}, vectors[3])
	client.AssertExpectations(t)
}

func TestEmbedTexts_VectorsAreUnitLength(t *testing.T) {
	client := new(MockEmbeddingClient)
	client.On("EmbedBatch", mock.Anything, mock.Anything).
		Return([][]float32{{3, 4}}, nil)

	e := newTestEmbedder(client, EmbedConfig{Version: "v1", BatchSize: 8, MaxAttempts: 1})

	vectors, err := e.EmbedTexts(context.Background(), []string{"a"})

	require.NoError(t, err)
	require.Len(t, vectors, 1)
	var sum float64
	for _, x := range vectors[0] {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-6)
}

func TestEmbedTexts_RetriesTransientFailures(t *testing.T) {
	client := new(MockEmbeddingClient)
	client.On("EmbedBatch", mock.Anything, mock.Anything).
		Return(nil, domain.ErrRateLimited).Twice()
	client.On("EmbedBatch", mock.Anything, mock.Anything).
		Return([][]float32{{1, 0}}, nil).Once()

	e := newTestEmbedder(client, EmbedConfig{Version: "v1", BatchSize: 8, MaxAttempts: 3, BaseBackoff: time.Millisecond})

	vectors, err := e.EmbedTexts(context.Background(), []string{"a"})

	require.NoError(t, err)
	require.Len(t, vectors, 1)
	client.AssertNumberOfCalls(t, "EmbedBatch", 3)
}

func TestEmbedTexts_ExhaustedRetriesFail(t *testing.T) {
	client := new(MockEmbeddingClient)
	client.On("EmbedBatch", mock.Anything, mock.Anything).
		Return(nil, domain.ErrRateLimited)

	e := newTestEmbedder(client, EmbedConfig{Version: "v1", BatchSize: 8, MaxAttempts: 3, BaseBackoff: time.Millisecond})

	_, err := e.EmbedTexts(context.Background(), []string{"a"})

	require.Error(t, err)
	var de *domain.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.ErrCodeEmbedding, de.Code)
	client.AssertNumberOfCalls(t, "EmbedBatch", 3)
}

func TestEmbedTexts_NonTransientFailureIsNotRetried(t *testing.T) {
	client := new(MockEmbeddingClient)
	client.On("EmbedBatch", mock.Anything, mock.Anything).
		Return(nil, domain.ErrParseFailed)

	e := newTestEmbedder(client, EmbedConfig{Version: "v1", BatchSize: 8, MaxAttempts: 3, BaseBackoff: time.Millisecond})

	_, err := e.EmbedTexts(context.Background(), []string{"a"})

	require.Error(t, err)
	client.AssertNumberOfCalls(t, "EmbedBatch", 1)
}

func TestEmbedTexts_BatchSizeMismatchFails(t *testing.T) {
	client := new(MockEmbeddingClient)
	client.On("EmbedBatch", mock.Anything, mock.Anything).
		Return([][]float32{{1, 0}}, nil)

	e := newTestEmbedder(client, EmbedConfig{Version: "v1", BatchSize: 8, MaxAttempts: 1})

	_, err := e.EmbedTexts(context.Background(), []string{"a", "b"})

	require.Error(t, err)
	var de *domain.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.ErrCodeEmbedding, de.Code)
}

func TestEmbedTexts_EmptyInput(t *testing.T) {
	client := new(MockEmbeddingClient)
	e := newTestEmbedder(client, DefaultEmbedConfig("v1"))

	vectors, err := e.EmbedTexts(context.Background(), nil)

	require.NoError(t, err)
	assert.Nil(t, vectors)
	client.AssertNotCalled(t, "EmbedBatch", mock.Anything, mock.Anything)
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	zero := Normalize([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}
