package service

import (
	"context"
	"log"

	"github.com/lodestone-ai/lodestone/internal/domain"
)

// DocumentRepository defines document lookups and deletion
type DocumentRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	List(ctx context.Context, tenantID string, offset, limit int) ([]*domain.Document, int, error)
	Delete(ctx context.Context, id string) error
}

// DocumentService exposes document status and lifecycle operations
type DocumentService struct {
	repo  DocumentRepository
	index ChunkIndexWriter
	blobs BlobStore
}

// NewDocumentService creates a DocumentService
func NewDocumentService(repo DocumentRepository, index ChunkIndexWriter, blobs BlobStore) *DocumentService {
	return &DocumentService{
		repo:  repo,
		index: index,
		blobs: blobs,
	}
}

// Get returns a document scoped to the tenant
func (s *DocumentService) Get(ctx context.Context, tenantID, id string) (*domain.Document, error) {
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.TenantID != tenantID {
		// tenants never see each other's documents, not even as 403s
		return nil, domain.ErrDocumentNotFound
	}
	return doc, nil
}

// List returns a page of the tenant's documents plus the total count
func (s *DocumentService) List(ctx context.Context, tenantID string, offset, limit int) ([]*domain.Document, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, tenantID, offset, limit)
}

// Delete removes a document and cascades to its chunks (all embedding
// versions) and stored blob.
func (s *DocumentService) Delete(ctx context.Context, tenantID, id string) error {
	doc, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	if err := s.index.DeleteByDocument(ctx, doc.ID, ""); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeIndexWrite, "failed to delete document chunks", err)
	}

	if err := s.blobs.Delete(ctx, doc.SourceURI); err != nil {
		// chunk deletion already succeeded; an orphaned blob is recoverable
		log.Printf("failed to delete blob %s: %v", doc.SourceURI, err)
	}

	return s.repo.Delete(ctx, doc.ID)
}
