package service

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/lodestone-ai/lodestone/internal/domain"
	"github.com/lodestone-ai/lodestone/internal/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockGenerationClient is a mock implementation of GenerationClient
type MockGenerationClient struct {
	mock.Mock
}

func (m *MockGenerationClient) Generate(ctx context.Context, system, prompt string) (string, error) {
	args := m.Called(ctx, system, prompt)
	return args.String(0), args.Error(1)
}

func (m *MockGenerationClient) GenerateStream(ctx context.Context, system, prompt string) (openai.TokenStream, error) {
	args := m.Called(ctx, system, prompt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(openai.TokenStream), args.Error(1)
}

// fakeTokenStream replays a fixed fragment sequence
type fakeTokenStream struct {
	fragments []string
	pos       int
	closed    bool
}

func (s *fakeTokenStream) Recv() (string, error) {
	if s.pos >= len(s.fragments) {
		return "", io.EOF
	}
	frag := s.fragments[s.pos]
	s.pos++
	return frag, nil
}

func (s *fakeTokenStream) Close() error {
	s.closed = true
	return nil
}

func newAnswerService(index ChunkSearcher, embeddings EmbeddingClient, gen GenerationClient) *AnswerService {
	return NewAnswerService(
		testRetriever(index, embeddings),
		NewAssembler(DefaultAssembleConfig()),
		gen,
	)
}

func stubSearch(index *MockChunkSearcher, dense []*domain.ScoredChunk) {
	index.On("SearchDense", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(dense, nil)
	index.On("SearchLexical", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]*domain.ScoredChunk{}, nil)
}

func TestAnswer_EmptyRetrievalSkipsGeneration(t *testing.T) {
	index := new(MockChunkSearcher)
	stubSearch(index, []*domain.ScoredChunk{})
	embeddings := new(MockEmbeddingClient)
	stubQueryEmbedding(embeddings)
	gen := new(MockGenerationClient)

	svc := newAnswerService(index, embeddings, gen)
	answer, err := svc.Answer(context.Background(), "anything", domain.SearchFilters{TenantID: "tenant-a"}, 5)

	require.NoError(t, err)
	assert.Empty(t, answer.Text)
	assert.True(t, answer.Context.Empty())
	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestAnswer_GeneratesFromRetrievedContext(t *testing.T) {
	index := new(MockChunkSearcher)
	stubSearch(index, []*domain.ScoredChunk{
		scoredChunk("doc-1", 0, []float32{1, 0}, 0.9),
		scoredChunk("doc-2", 0, []float32{0, 1}, 0.7),
	})
	embeddings := new(MockEmbeddingClient)
	stubQueryEmbedding(embeddings)

	gen := new(MockGenerationClient)
	gen.On("Generate", mock.Anything, mock.Anything, mock.MatchedBy(func(prompt string) bool {
		return strings.Contains(prompt, "[0]") &&
			strings.Contains(prompt, "Question: what happened?")
	})).Return("The answer [0].", nil)

	svc := newAnswerService(index, embeddings, gen)
	answer, err := svc.Answer(context.Background(), "what happened?", domain.SearchFilters{TenantID: "tenant-a"}, 5)

	require.NoError(t, err)
	assert.Equal(t, "The answer [0].", answer.Text)
	require.Len(t, answer.Context.Passages, 2)
	assert.Equal(t, answer.Context.Passages[0].ChunkID, answer.Context.Citations[0])
	gen.AssertExpectations(t)
}

func TestAnswer_GenerationFailureReturnsContext(t *testing.T) {
	index := new(MockChunkSearcher)
	stubSearch(index, []*domain.ScoredChunk{
		scoredChunk("doc-1", 0, []float32{1, 0}, 0.9),
	})
	embeddings := new(MockEmbeddingClient)
	stubQueryEmbedding(embeddings)

	gen := new(MockGenerationClient)
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return("", domain.ErrGenerationFailed)

	svc := newAnswerService(index, embeddings, gen)
	answer, err := svc.Answer(context.Background(), "query", domain.SearchFilters{TenantID: "tenant-a"}, 5)

	// the assembled context comes back with the error so the caller can retry
	// generation without re-retrieving
	require.ErrorIs(t, err, domain.ErrGenerationFailed)
	require.NotNil(t, answer)
	assert.NotEmpty(t, answer.Context.Passages)
}

func TestAnswer_RetrievalErrorPropagates(t *testing.T) {
	svc := newAnswerService(new(MockChunkSearcher), new(MockEmbeddingClient), new(MockGenerationClient))

	_, err := svc.Answer(context.Background(), "  ", domain.SearchFilters{TenantID: "tenant-a"}, 5)

	assert.ErrorIs(t, err, domain.ErrEmptyQuery)
}

func TestAnswerStream_YieldsTokensInOrder(t *testing.T) {
	index := new(MockChunkSearcher)
	stubSearch(index, []*domain.ScoredChunk{
		scoredChunk("doc-1", 0, []float32{1, 0}, 0.9),
	})
	embeddings := new(MockEmbeddingClient)
	stubQueryEmbedding(embeddings)

	fake := &fakeTokenStream{fragments: []string{"The ", "answer ", "[0]."}}
	gen := new(MockGenerationClient)
	gen.On("GenerateStream", mock.Anything, mock.Anything, mock.Anything).Return(fake, nil)

	svc := newAnswerService(index, embeddings, gen)
	answerCtx, stream, err := svc.AnswerStream(context.Background(), "query", domain.SearchFilters{TenantID: "tenant-a"}, 5)

	require.NoError(t, err)
	require.NotNil(t, stream)
	assert.NotEmpty(t, answerCtx.Passages)

	var b strings.Builder
	for {
		frag, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		b.WriteString(frag)
	}
	assert.Equal(t, "The answer [0].", b.String())
	require.NoError(t, stream.Close())
	assert.True(t, fake.closed)
}

func TestAnswerStream_EmptyContextReturnsNilStream(t *testing.T) {
	index := new(MockChunkSearcher)
	stubSearch(index, []*domain.ScoredChunk{})
	embeddings := new(MockEmbeddingClient)
	stubQueryEmbedding(embeddings)
	gen := new(MockGenerationClient)

	svc := newAnswerService(index, embeddings, gen)
	answerCtx, stream, err := svc.AnswerStream(context.Background(), "query", domain.SearchFilters{TenantID: "tenant-a"}, 5)

	require.NoError(t, err)
	assert.Nil(t, stream)
	assert.True(t, answerCtx.Empty())
	gen.AssertNotCalled(t, "GenerateStream", mock.Anything, mock.Anything, mock.Anything)
}
