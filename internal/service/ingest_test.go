package service

import (
	"context"
	"testing"
	"time"

	"github.com/lodestone-ai/lodestone/internal/domain"
	"github.com/lodestone-ai/lodestone/internal/parser"
	"github.com/lodestone-ai/lodestone/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockIngestRepo is a mock implementation of IngestDocumentRepository
type MockIngestRepo struct {
	mock.Mock
}

func (m *MockIngestRepo) Create(ctx context.Context, d *domain.Document) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockIngestRepo) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockIngestRepo) FindByHash(ctx context.Context, tenantID, contentHash string) (*domain.Document, error) {
	args := m.Called(ctx, tenantID, contentHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockIngestRepo) UpdateStatus(ctx context.Context, id string, from, to domain.DocumentStatus, failReason string) error {
	args := m.Called(ctx, id, from, to, failReason)
	return args.Error(0)
}

func (m *MockIngestRepo) FinishIndexing(ctx context.Context, id, version string, chunkCount int) error {
	args := m.Called(ctx, id, version, chunkCount)
	return args.Error(0)
}

func (m *MockIngestRepo) AdvisoryLock(ctx context.Context, id string) (func(), bool, error) {
	args := m.Called(ctx, id)
	var release func()
	if args.Get(0) != nil {
		release = args.Get(0).(func())
	}
	return release, args.Bool(1), args.Error(2)
}

// MockIndexWriter is a mock implementation of ChunkIndexWriter
type MockIndexWriter struct {
	mock.Mock
}

func (m *MockIndexWriter) Upsert(ctx context.Context, chunks []*domain.Chunk) error {
	args := m.Called(ctx, chunks)
	return args.Error(0)
}

func (m *MockIndexWriter) DeleteByDocument(ctx context.Context, documentID, version string) error {
	args := m.Called(ctx, documentID, version)
	return args.Error(0)
}

// MockEnqueuer is a mock implementation of JobEnqueuer
type MockEnqueuer struct {
	mock.Mock
}

func (m *MockEnqueuer) Enqueue(ctx context.Context, job *domain.IngestionJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

type ingestFixture struct {
	repo  *MockIngestRepo
	index *MockIndexWriter
	blobs *storage.MemoryStore
	queue *MockEnqueuer
	svc   *IngestionService
}

func newIngestFixture(t *testing.T, embedClient EmbeddingClient) *ingestFixture {
	t.Helper()
	repo := new(MockIngestRepo)
	index := new(MockIndexWriter)
	blobs := storage.NewMemoryStore()
	q := new(MockEnqueuer)

	embedder := newTestEmbedder(embedClient, EmbedConfig{Version: "v1", BatchSize: 8, MaxAttempts: 1})
	svc := NewIngestionService(repo, index, blobs, parser.NewRegistry(),
		NewChunker(DefaultChunkConfig()), embedder, q)

	return &ingestFixture{repo: repo, index: index, blobs: blobs, queue: q, svc: svc}
}

func pendingDoc(id string) *domain.Document {
	return domain.NewDocument(id, "tenant-a", "a.txt", "text/plain",
		"documents/"+id, "hash-"+id, nil, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
}

func expectTransition(repo *MockIngestRepo, id string, from, to domain.DocumentStatus) {
	repo.On("UpdateStatus", mock.Anything, id, from, to, "").Return(nil).Once()
}

func TestSubmit_NewDocumentIsStoredAndEnqueued(t *testing.T) {
	f := newIngestFixture(t, new(MockEmbeddingClient))
	f.repo.On("FindByHash", mock.Anything, "tenant-a", mock.Anything).
		Return(nil, domain.ErrDocumentNotFound)
	f.repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.queue.On("Enqueue", mock.Anything, mock.Anything).Return(nil)

	doc, err := f.svc.Submit(context.Background(), SubmitInput{
		TenantID:    "tenant-a",
		Filename:    "notes.txt",
		ContentType: "text/plain",
		Blob:        []byte("hello world"),
	})

	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusPending, doc.Status)
	assert.Equal(t, ContentHash([]byte("hello world")), doc.ContentHash)

	blob, err := f.blobs.Get(context.Background(), doc.SourceURI)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), blob)

	f.queue.AssertCalled(t, "Enqueue", mock.Anything, mock.MatchedBy(func(j *domain.IngestionJob) bool {
		return j.DocumentID == doc.ID && j.EmbeddingVersion == "v1" && j.ContentHash == doc.ContentHash
	}))
}

func TestSubmit_DuplicateContentReturnsExistingDocument(t *testing.T) {
	f := newIngestFixture(t, new(MockEmbeddingClient))
	existing := pendingDoc("doc-1")
	existing.Status = domain.DocumentStatusIndexed
	f.repo.On("FindByHash", mock.Anything, "tenant-a", mock.Anything).Return(existing, nil)

	doc, err := f.svc.Submit(context.Background(), SubmitInput{
		TenantID:    "tenant-a",
		Filename:    "again.txt",
		ContentType: "text/plain",
		Blob:        []byte("same content"),
	})

	require.NoError(t, err)
	assert.Equal(t, existing.ID, doc.ID)
	f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	f.queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestSubmit_FailedDuplicateIsReingested(t *testing.T) {
	f := newIngestFixture(t, new(MockEmbeddingClient))
	existing := pendingDoc("doc-1")
	existing.Status = domain.DocumentStatusFailed
	f.repo.On("FindByHash", mock.Anything, "tenant-a", mock.Anything).Return(existing, nil)
	f.repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.queue.On("Enqueue", mock.Anything, mock.Anything).Return(nil)

	doc, err := f.svc.Submit(context.Background(), SubmitInput{
		TenantID:    "tenant-a",
		Filename:    "again.txt",
		ContentType: "text/plain",
		Blob:        []byte("same content"),
	})

	require.NoError(t, err)
	assert.NotEqual(t, existing.ID, doc.ID)
}

func TestSubmit_UnsupportedContentType(t *testing.T) {
	f := newIngestFixture(t, new(MockEmbeddingClient))

	_, err := f.svc.Submit(context.Background(), SubmitInput{
		TenantID:    "tenant-a",
		Filename:    "slides.ppt",
		ContentType: "application/vnd.ms-powerpoint",
		Blob:        []byte{0x01},
	})

	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestSubmit_Validation(t *testing.T) {
	f := newIngestFixture(t, new(MockEmbeddingClient))

	_, err := f.svc.Submit(context.Background(), SubmitInput{ContentType: "text/plain", Blob: []byte("x")})
	assert.Error(t, err)

	_, err = f.svc.Submit(context.Background(), SubmitInput{TenantID: "tenant-a", ContentType: "text/plain"})
	assert.Error(t, err)
}

func TestProcess_HappyPathTransitionsToIndexed(t *testing.T) {
	embedClient := new(MockEmbeddingClient)
	embedClient.On("EmbedBatch", mock.Anything, mock.Anything).
		Return([][]float32{{1, 0}}, nil)

	f := newIngestFixture(t, embedClient)
	doc := pendingDoc("doc-1")
	require.NoError(t, f.blobs.Put(context.Background(), doc.SourceURI, []byte("some plain text content"), "text/plain"))

	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.repo.On("AdvisoryLock", mock.Anything, "doc-1").Return(func() {}, true, nil)
	expectTransition(f.repo, "doc-1", domain.DocumentStatusPending, domain.DocumentStatusParsing)
	expectTransition(f.repo, "doc-1", domain.DocumentStatusParsing, domain.DocumentStatusChunking)
	expectTransition(f.repo, "doc-1", domain.DocumentStatusChunking, domain.DocumentStatusEmbedding)
	expectTransition(f.repo, "doc-1", domain.DocumentStatusEmbedding, domain.DocumentStatusIndexing)
	f.index.On("Upsert", mock.Anything, mock.MatchedBy(func(chunks []*domain.Chunk) bool {
		return len(chunks) == 1 &&
			chunks[0].ID == domain.ChunkID("doc-1", 0) &&
			chunks[0].EmbeddingVersion == "v1" &&
			len(chunks[0].Embedding) == 2
	})).Return(nil)
	f.repo.On("FinishIndexing", mock.Anything, "doc-1", "v1", 1).Return(nil)

	job := domain.NewIngestionJob("job-1", "doc-1", doc.ContentHash, "v1", time.Now())
	err := f.svc.Process(context.Background(), job)

	require.NoError(t, err)
	f.repo.AssertExpectations(t)
	f.index.AssertExpectations(t)
}

func TestProcess_ReindexHoldsDocumentInReindexingState(t *testing.T) {
	embedClient := new(MockEmbeddingClient)
	embedClient.On("EmbedBatch", mock.Anything, mock.Anything).
		Return([][]float32{{1, 0}}, nil)

	f := newIngestFixture(t, embedClient)
	doc := pendingDoc("doc-1")
	doc.Status = domain.DocumentStatusIndexed
	doc.EmbeddingVersion = "v0"
	require.NoError(t, f.blobs.Put(context.Background(), doc.SourceURI, []byte("some plain text content"), "text/plain"))

	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.repo.On("AdvisoryLock", mock.Anything, "doc-1").Return(func() {}, true, nil)
	// the only status change before cutover; the document never re-enters
	// the ingest-only states, so its v0 chunks stay searchable throughout
	expectTransition(f.repo, "doc-1", domain.DocumentStatusIndexed, domain.DocumentStatusReindexing)
	f.index.On("Upsert", mock.Anything, mock.MatchedBy(func(chunks []*domain.Chunk) bool {
		return len(chunks) == 1 && chunks[0].EmbeddingVersion == "v1"
	})).Return(nil)
	f.repo.On("FinishIndexing", mock.Anything, "doc-1", "v1", 1).Return(nil)

	job := domain.NewIngestionJob("job-1", "doc-1", doc.ContentHash, "v1", time.Now())
	require.NoError(t, f.svc.Process(context.Background(), job))

	f.repo.AssertExpectations(t)
	f.index.AssertExpectations(t)
	f.repo.AssertNumberOfCalls(t, "UpdateStatus", 1)
}

func TestProcess_DeletedDocumentIsNoop(t *testing.T) {
	f := newIngestFixture(t, new(MockEmbeddingClient))
	f.repo.On("GetByID", mock.Anything, "gone").Return(nil, domain.ErrDocumentNotFound)

	job := domain.NewIngestionJob("job-1", "gone", "hash", "v1", time.Now())
	err := f.svc.Process(context.Background(), job)

	assert.NoError(t, err)
}

func TestProcess_AlreadyIndexedSameContentIsIdempotent(t *testing.T) {
	f := newIngestFixture(t, new(MockEmbeddingClient))
	doc := pendingDoc("doc-1")
	doc.Status = domain.DocumentStatusIndexed
	doc.EmbeddingVersion = "v1"
	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)

	job := domain.NewIngestionJob("job-1", "doc-1", doc.ContentHash, "v1", time.Now())
	err := f.svc.Process(context.Background(), job)

	require.NoError(t, err)
	f.repo.AssertNotCalled(t, "AdvisoryLock", mock.Anything, mock.Anything)
	f.repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_FailedDocumentWaitsForResubmit(t *testing.T) {
	f := newIngestFixture(t, new(MockEmbeddingClient))
	doc := pendingDoc("doc-1")
	doc.Status = domain.DocumentStatusFailed
	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)

	job := domain.NewIngestionJob("job-1", "doc-1", doc.ContentHash, "v1", time.Now())
	err := f.svc.Process(context.Background(), job)

	require.NoError(t, err)
	f.repo.AssertNotCalled(t, "AdvisoryLock", mock.Anything, mock.Anything)
}

func TestProcess_LockedDocumentIsRedelivered(t *testing.T) {
	f := newIngestFixture(t, new(MockEmbeddingClient))
	doc := pendingDoc("doc-1")
	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.repo.On("AdvisoryLock", mock.Anything, "doc-1").Return(nil, false, nil)

	job := domain.NewIngestionJob("job-1", "doc-1", doc.ContentHash, "v1", time.Now())
	err := f.svc.Process(context.Background(), job)

	assert.ErrorIs(t, err, domain.ErrDocumentLocked)
}

func TestProcess_ParseFailureMarksDocumentFailed(t *testing.T) {
	f := newIngestFixture(t, new(MockEmbeddingClient))
	doc := pendingDoc("doc-1")
	// invalid UTF-8 makes the text parser reject the blob
	require.NoError(t, f.blobs.Put(context.Background(), doc.SourceURI, []byte{0xff, 0xfe, 0xfd}, "text/plain"))

	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.repo.On("AdvisoryLock", mock.Anything, "doc-1").Return(func() {}, true, nil)
	expectTransition(f.repo, "doc-1", domain.DocumentStatusPending, domain.DocumentStatusParsing)
	f.repo.On("UpdateStatus", mock.Anything, "doc-1", domain.DocumentStatusParsing, domain.DocumentStatusFailed,
		mock.MatchedBy(func(reason string) bool { return reason != "" })).Return(nil).Once()

	job := domain.NewIngestionJob("job-1", "doc-1", doc.ContentHash, "v1", time.Now())
	err := f.svc.Process(context.Background(), job)

	// document-level failures are recorded, not propagated
	require.NoError(t, err)
	f.repo.AssertExpectations(t)
}

func TestProcess_ZeroChunksIndexesEmptyDocument(t *testing.T) {
	f := newIngestFixture(t, new(MockEmbeddingClient))
	doc := pendingDoc("doc-1")
	require.NoError(t, f.blobs.Put(context.Background(), doc.SourceURI, []byte("   \n\n   "), "text/plain"))

	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.repo.On("AdvisoryLock", mock.Anything, "doc-1").Return(func() {}, true, nil)
	expectTransition(f.repo, "doc-1", domain.DocumentStatusPending, domain.DocumentStatusParsing)
	f.repo.On("FinishIndexing", mock.Anything, "doc-1", "v1", 0).Return(nil).Once()

	job := domain.NewIngestionJob("job-1", "doc-1", doc.ContentHash, "v1", time.Now())
	err := f.svc.Process(context.Background(), job)

	require.NoError(t, err)
	f.repo.AssertExpectations(t)
	f.index.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestProcess_EmbeddingFailureMarksDocumentFailed(t *testing.T) {
	embedClient := new(MockEmbeddingClient)
	embedClient.On("EmbedBatch", mock.Anything, mock.Anything).
		Return(nil, domain.ErrEmbeddingFailed)

	f := newIngestFixture(t, embedClient)
	doc := pendingDoc("doc-1")
	require.NoError(t, f.blobs.Put(context.Background(), doc.SourceURI, []byte("some plain text content"), "text/plain"))

	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.repo.On("AdvisoryLock", mock.Anything, "doc-1").Return(func() {}, true, nil)
	expectTransition(f.repo, "doc-1", domain.DocumentStatusPending, domain.DocumentStatusParsing)
	expectTransition(f.repo, "doc-1", domain.DocumentStatusParsing, domain.DocumentStatusChunking)
	expectTransition(f.repo, "doc-1", domain.DocumentStatusChunking, domain.DocumentStatusEmbedding)
	f.repo.On("UpdateStatus", mock.Anything, "doc-1", domain.DocumentStatusEmbedding, domain.DocumentStatusFailed,
		mock.MatchedBy(func(reason string) bool { return reason != "" })).Return(nil).Once()

	job := domain.NewIngestionJob("job-1", "doc-1", doc.ContentHash, "v1", time.Now())
	err := f.svc.Process(context.Background(), job)

	require.NoError(t, err)
	f.repo.AssertExpectations(t)
	f.index.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestProcess_IndexWriteFailureRollsBackPartialUpserts(t *testing.T) {
	embedClient := new(MockEmbeddingClient)
	embedClient.On("EmbedBatch", mock.Anything, mock.Anything).
		Return([][]float32{{1, 0}}, nil)

	f := newIngestFixture(t, embedClient)
	doc := pendingDoc("doc-1")
	require.NoError(t, f.blobs.Put(context.Background(), doc.SourceURI, []byte("some plain text content"), "text/plain"))

	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.repo.On("AdvisoryLock", mock.Anything, "doc-1").Return(func() {}, true, nil)
	expectTransition(f.repo, "doc-1", domain.DocumentStatusPending, domain.DocumentStatusParsing)
	expectTransition(f.repo, "doc-1", domain.DocumentStatusParsing, domain.DocumentStatusChunking)
	expectTransition(f.repo, "doc-1", domain.DocumentStatusChunking, domain.DocumentStatusEmbedding)
	expectTransition(f.repo, "doc-1", domain.DocumentStatusEmbedding, domain.DocumentStatusIndexing)
	f.index.On("Upsert", mock.Anything, mock.Anything).Return(assert.AnError)
	f.index.On("DeleteByDocument", mock.Anything, "doc-1", "v1").Return(nil).Once()
	f.repo.On("UpdateStatus", mock.Anything, "doc-1", domain.DocumentStatusIndexing, domain.DocumentStatusFailed,
		mock.MatchedBy(func(reason string) bool { return reason != "" })).Return(nil).Once()

	job := domain.NewIngestionJob("job-1", "doc-1", doc.ContentHash, "v1", time.Now())
	err := f.svc.Process(context.Background(), job)

	require.NoError(t, err)
	f.index.AssertExpectations(t)
	f.repo.AssertNotCalled(t, "FinishIndexing", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestResubmit_OnlyFailedDocuments(t *testing.T) {
	f := newIngestFixture(t, new(MockEmbeddingClient))
	failed := pendingDoc("doc-1")
	failed.Status = domain.DocumentStatusFailed
	f.repo.On("GetByID", mock.Anything, "doc-1").Return(failed, nil)
	f.repo.On("UpdateStatus", mock.Anything, "doc-1", domain.DocumentStatusFailed, domain.DocumentStatusPending, "").Return(nil)
	f.queue.On("Enqueue", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, f.svc.Resubmit(context.Background(), "doc-1"))
	f.queue.AssertNumberOfCalls(t, "Enqueue", 1)

	indexed := pendingDoc("doc-2")
	indexed.Status = domain.DocumentStatusIndexed
	f.repo.On("GetByID", mock.Anything, "doc-2").Return(indexed, nil)

	err := f.svc.Resubmit(context.Background(), "doc-2")
	var de *domain.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.ErrCodeInvalidOperation, de.Code)
}

func TestReindex_OnlyIndexedDocuments(t *testing.T) {
	f := newIngestFixture(t, new(MockEmbeddingClient))
	indexed := pendingDoc("doc-1")
	indexed.Status = domain.DocumentStatusIndexed
	f.repo.On("GetByID", mock.Anything, "doc-1").Return(indexed, nil)
	f.queue.On("Enqueue", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, f.svc.Reindex(context.Background(), "doc-1"))

	pending := pendingDoc("doc-2")
	f.repo.On("GetByID", mock.Anything, "doc-2").Return(pending, nil)

	err := f.svc.Reindex(context.Background(), "doc-2")
	var de *domain.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.ErrCodeInvalidOperation, de.Code)
}

func TestContentHash_Deterministic(t *testing.T) {
	assert.Equal(t, ContentHash([]byte("abc")), ContentHash([]byte("abc")))
	assert.NotEqual(t, ContentHash([]byte("abc")), ContentHash([]byte("abd")))
	assert.Len(t, ContentHash([]byte("abc")), 64)
}
