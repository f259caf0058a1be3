package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lodestone-ai/lodestone/internal/domain"
	"github.com/lodestone-ai/lodestone/internal/parser"
)

// IngestDocumentRepository defines the document persistence the pipeline
// depends on. AdvisoryLock must provide a single-owner guarantee so no two
// workers advance the same document's state concurrently.
type IngestDocumentRepository interface {
	Create(ctx context.Context, d *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	FindByHash(ctx context.Context, tenantID, contentHash string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, from, to domain.DocumentStatus, failReason string) error
	// FinishIndexing atomically marks the document indexed under version and
	// deletes that document's chunks belonging to any other version
	// (embedding-version cutover).
	FinishIndexing(ctx context.Context, id, version string, chunkCount int) error
	// AdvisoryLock acquires a per-document lock; ok is false when another
	// worker holds it. release must be called when ok.
	AdvisoryLock(ctx context.Context, id string) (release func(), ok bool, err error)
}

// ChunkIndexWriter defines the index writes the pipeline depends on
type ChunkIndexWriter interface {
	Upsert(ctx context.Context, chunks []*domain.Chunk) error
	// DeleteByDocument removes a document's chunks; version "" removes all
	// versions.
	DeleteByDocument(ctx context.Context, documentID, version string) error
}

// BlobStore defines raw document blob storage
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// JobEnqueuer publishes ingestion jobs
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job *domain.IngestionJob) error
}

// SubmitInput describes one document upload
type SubmitInput struct {
	TenantID    string
	Filename    string
	ContentType string
	Tags        []string
	Blob        []byte
}

// IngestionService orchestrates the parse -> chunk -> embed -> index
// pipeline with content-hash idempotency and per-document failure isolation.
type IngestionService struct {
	repo     IngestDocumentRepository
	index    ChunkIndexWriter
	blobs    BlobStore
	parsers  *parser.Registry
	chunker  *Chunker
	embedder *Embedder
	queue    JobEnqueuer
	now      func() time.Time
}

// NewIngestionService creates an IngestionService
func NewIngestionService(
	repo IngestDocumentRepository,
	index ChunkIndexWriter,
	blobs BlobStore,
	parsers *parser.Registry,
	chunker *Chunker,
	embedder *Embedder,
	queue JobEnqueuer,
) *IngestionService {
	return &IngestionService{
		repo:     repo,
		index:    index,
		blobs:    blobs,
		parsers:  parsers,
		chunker:  chunker,
		embedder: embedder,
		queue:    queue,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ContentHash returns the content-addressed idempotency key for a blob
func ContentHash(blob []byte) string {
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

// Submit registers a document and enqueues its ingestion job. Uploading
// content already indexed under the current embedding version returns the
// existing document without reprocessing.
func (s *IngestionService) Submit(ctx context.Context, input SubmitInput) (*domain.Document, error) {
	if input.TenantID == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "tenant id is required")
	}
	if len(input.Blob) == 0 {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "document blob is empty")
	}
	if !s.parsers.Supports(input.ContentType) {
		return nil, domain.ErrUnsupportedFormat
	}

	hash := ContentHash(input.Blob)

	existing, err := s.repo.FindByHash(ctx, input.TenantID, hash)
	if err != nil && !errors.Is(err, domain.ErrDocumentNotFound) {
		return nil, err
	}
	if existing != nil && existing.Status != domain.DocumentStatusFailed {
		return existing, nil
	}

	id := uuid.NewString()
	sourceURI := fmt.Sprintf("documents/%s", id)
	doc := domain.NewDocument(id, input.TenantID, input.Filename, input.ContentType, sourceURI, hash, input.Tags, s.now())
	if err := domain.ValidateDocument(doc); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid document", err)
	}

	if err := s.blobs.Put(ctx, sourceURI, input.Blob, input.ContentType); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to store document blob", err)
	}

	if err := s.repo.Create(ctx, doc); err != nil {
		return nil, err
	}

	if err := s.enqueue(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Resubmit moves a failed document back to pending and enqueues it again.
// This is the only way out of the failed state.
func (s *IngestionService) Resubmit(ctx context.Context, documentID string) error {
	doc, err := s.repo.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Status != domain.DocumentStatusFailed {
		return domain.NewDomainError(domain.ErrCodeInvalidOperation, "only failed documents can be resubmitted")
	}
	if err := s.repo.UpdateStatus(ctx, doc.ID, domain.DocumentStatusFailed, domain.DocumentStatusPending, ""); err != nil {
		return err
	}
	doc.Status = domain.DocumentStatusPending
	return s.enqueue(ctx, doc)
}

// Reindex enqueues an indexed document for reprocessing under the embedder's
// current version. The old version's chunks stay retrievable until the new
// version's upsert fully succeeds.
func (s *IngestionService) Reindex(ctx context.Context, documentID string) error {
	doc, err := s.repo.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Status != domain.DocumentStatusIndexed {
		return domain.NewDomainError(domain.ErrCodeInvalidOperation, "only indexed documents can be reindexed")
	}
	return s.enqueue(ctx, doc)
}

func (s *IngestionService) enqueue(ctx context.Context, doc *domain.Document) error {
	job := domain.NewIngestionJob(uuid.NewString(), doc.ID, doc.ContentHash, s.embedder.Version(), s.now())
	return s.queue.Enqueue(ctx, job)
}

// Process runs the ingestion pipeline for one job. Document-level failures
// are recorded on the document and return nil; only infrastructure errors
// (including a held per-document lock) propagate so the job is redelivered.
func (s *IngestionService) Process(ctx context.Context, job *domain.IngestionJob) error {
	doc, err := s.repo.GetByID(ctx, job.DocumentID)
	if err != nil {
		if errors.Is(err, domain.ErrDocumentNotFound) {
			// the document was deleted after enqueue; nothing to do
			return nil
		}
		return err
	}

	version := s.embedder.Version()

	// idempotency: same content already indexed under the current version
	if doc.Status == domain.DocumentStatusIndexed &&
		doc.ContentHash == job.ContentHash &&
		doc.EmbeddingVersion == version {
		return nil
	}
	if doc.Status == domain.DocumentStatusFailed {
		// failed documents never auto-transition; wait for resubmission
		return nil
	}

	release, ok, err := s.repo.AdvisoryLock(ctx, doc.ID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrDocumentLocked
	}
	defer release()

	return s.run(ctx, doc, version)
}

func (s *IngestionService) run(ctx context.Context, doc *domain.Document, version string) error {
	// A re-indexed document stays in reindexing for the whole re-embed
	// window so its current chunks remain searchable until cutover.
	switch doc.Status {
	case domain.DocumentStatusIndexed:
		if err := s.transition(ctx, doc, domain.DocumentStatusReindexing); err != nil {
			return err
		}
	case domain.DocumentStatusReindexing:
		// redelivered re-index job; the document is already in flight
	default:
		if err := s.transition(ctx, doc, domain.DocumentStatusParsing); err != nil {
			return err
		}
	}
	reindex := doc.Status == domain.DocumentStatusReindexing

	blob, err := s.blobs.Get(ctx, doc.SourceURI)
	if err != nil {
		return s.fail(ctx, doc, domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to fetch document blob", err))
	}

	extraction, err := s.parsers.Extract(ctx, blob, doc.ContentType)
	if err != nil {
		// parse failures are unrecoverable for this document
		return s.fail(ctx, doc, err)
	}

	// empty or unparsable text yields zero chunks, not a failure
	passages := s.chunker.Chunk(extraction.Text, extraction.Sections)
	if len(passages) == 0 {
		if err := s.repo.FinishIndexing(ctx, doc.ID, version, 0); err != nil {
			return err
		}
		log.Printf("document %s indexed with zero chunks", doc.ID)
		return nil
	}

	if !reindex {
		if err := s.transition(ctx, doc, domain.DocumentStatusChunking); err != nil {
			return err
		}
		if err := s.transition(ctx, doc, domain.DocumentStatusEmbedding); err != nil {
			return err
		}
	}

	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}
	vectors, err := s.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return s.fail(ctx, doc, err)
	}

	if !reindex {
		if err := s.transition(ctx, doc, domain.DocumentStatusIndexing); err != nil {
			return err
		}
	}

	createdAt := s.now()
	chunks := make([]*domain.Chunk, len(passages))
	for i, p := range passages {
		chunks[i] = &domain.Chunk{
			ID:               domain.ChunkID(doc.ID, i),
			DocumentID:       doc.ID,
			TenantID:         doc.TenantID,
			Index:            i,
			Text:             p.Text,
			Page:             p.Page,
			Section:          p.Section,
			Tags:             doc.Tags,
			EmbeddingVersion: version,
			Embedding:        vectors[i],
			CreatedAt:        createdAt,
		}
	}

	if err := s.index.Upsert(ctx, chunks); err != nil {
		// roll back partial upserts so the document is never left
		// half-indexed and visible
		if delErr := s.index.DeleteByDocument(ctx, doc.ID, version); delErr != nil {
			log.Printf("rollback of partial upserts for document %s failed: %v", doc.ID, delErr)
		}
		return s.fail(ctx, doc, domain.NewDomainErrorWithCause(domain.ErrCodeIndexWrite, "failed to write chunks to index", err))
	}

	if err := s.repo.FinishIndexing(ctx, doc.ID, version, len(chunks)); err != nil {
		return err
	}

	log.Printf("document %s indexed: %d chunks (embedding %s)", doc.ID, len(chunks), version)
	return nil
}

func (s *IngestionService) transition(ctx context.Context, doc *domain.Document, to domain.DocumentStatus) error {
	if !domain.CanTransition(doc.Status, to) {
		return domain.NewDomainError(domain.ErrCodeInvalidOperation,
			fmt.Sprintf("cannot transition document from %s to %s", doc.Status, to))
	}
	if err := s.repo.UpdateStatus(ctx, doc.ID, doc.Status, to, ""); err != nil {
		return err
	}
	doc.Status = to
	return nil
}

// fail records a terminal failure on the document. The error is reported via
// document status, not propagated, so one document's failure never affects
// other in-flight documents.
func (s *IngestionService) fail(ctx context.Context, doc *domain.Document, cause error) error {
	reason := cause.Error()
	var de *domain.DomainError
	if errors.As(cause, &de) {
		reason = fmt.Sprintf("%s: %s", de.Code, de.Message)
	}

	if err := s.repo.UpdateStatus(ctx, doc.ID, doc.Status, domain.DocumentStatusFailed, reason); err != nil {
		return err
	}
	doc.Status = domain.DocumentStatusFailed
	log.Printf("document %s failed: %v", doc.ID, cause)
	return nil
}
