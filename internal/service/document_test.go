package service

import (
	"context"
	"testing"

	"github.com/lodestone-ai/lodestone/internal/domain"
	"github.com/lodestone-ai/lodestone/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockDocumentRepo is a mock implementation of DocumentRepository
type MockDocumentRepo struct {
	mock.Mock
}

func (m *MockDocumentRepo) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentRepo) List(ctx context.Context, tenantID string, offset, limit int) ([]*domain.Document, int, error) {
	args := m.Called(ctx, tenantID, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*domain.Document), args.Int(1), args.Error(2)
}

func (m *MockDocumentRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func TestDocumentGet_TenantMismatchIsNotFound(t *testing.T) {
	repo := new(MockDocumentRepo)
	repo.On("GetByID", mock.Anything, "doc-1").Return(pendingDoc("doc-1"), nil)

	svc := NewDocumentService(repo, new(MockIndexWriter), storage.NewMemoryStore())

	doc, err := svc.Get(context.Background(), "tenant-a", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", doc.ID)

	_, err = svc.Get(context.Background(), "tenant-b", "doc-1")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestDocumentList_ClampsPagination(t *testing.T) {
	repo := new(MockDocumentRepo)
	repo.On("List", mock.Anything, "tenant-a", 0, 100).
		Return([]*domain.Document{}, 0, nil)

	svc := NewDocumentService(repo, new(MockIndexWriter), storage.NewMemoryStore())

	_, _, err := svc.List(context.Background(), "tenant-a", -5, 0)
	require.NoError(t, err)
	_, _, err = svc.List(context.Background(), "tenant-a", 0, 500)
	require.NoError(t, err)

	repo.AssertNumberOfCalls(t, "List", 2)
}

func TestDocumentDelete_CascadesToChunksAndBlob(t *testing.T) {
	doc := pendingDoc("doc-1")
	blobs := storage.NewMemoryStore()
	require.NoError(t, blobs.Put(context.Background(), doc.SourceURI, []byte("raw"), "text/plain"))

	repo := new(MockDocumentRepo)
	repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	repo.On("Delete", mock.Anything, "doc-1").Return(nil)

	index := new(MockIndexWriter)
	// version "" removes the document's chunks across all embedding versions
	index.On("DeleteByDocument", mock.Anything, "doc-1", "").Return(nil)

	svc := NewDocumentService(repo, index, blobs)
	require.NoError(t, svc.Delete(context.Background(), "tenant-a", "doc-1"))

	index.AssertExpectations(t)
	repo.AssertExpectations(t)
	_, err := blobs.Get(context.Background(), doc.SourceURI)
	assert.Error(t, err)
}

func TestDocumentDelete_ChunkDeleteFailureAborts(t *testing.T) {
	repo := new(MockDocumentRepo)
	repo.On("GetByID", mock.Anything, "doc-1").Return(pendingDoc("doc-1"), nil)

	index := new(MockIndexWriter)
	index.On("DeleteByDocument", mock.Anything, "doc-1", "").Return(assert.AnError)

	svc := NewDocumentService(repo, index, storage.NewMemoryStore())
	err := svc.Delete(context.Background(), "tenant-a", "doc-1")

	require.Error(t, err)
	var de *domain.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.ErrCodeIndexWrite, de.Code)
	repo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestDocumentDelete_TenantMismatchDeletesNothing(t *testing.T) {
	repo := new(MockDocumentRepo)
	repo.On("GetByID", mock.Anything, "doc-1").Return(pendingDoc("doc-1"), nil)

	index := new(MockIndexWriter)
	svc := NewDocumentService(repo, index, storage.NewMemoryStore())

	err := svc.Delete(context.Background(), "tenant-b", "doc-1")

	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	index.AssertNotCalled(t, "DeleteByDocument", mock.Anything, mock.Anything, mock.Anything)
}
