package domain

import (
	"fmt"
	"time"
)

// DocumentStatus represents the ingestion state of a document
type DocumentStatus string

const (
	DocumentStatusPending   DocumentStatus = "pending"
	DocumentStatusParsing   DocumentStatus = "parsing"
	DocumentStatusChunking  DocumentStatus = "chunking"
	DocumentStatusEmbedding DocumentStatus = "embedding"
	DocumentStatusIndexing  DocumentStatus = "indexing"
	DocumentStatusIndexed   DocumentStatus = "indexed"
	// DocumentStatusReindexing covers the whole re-embed window of an
	// embedding-version migration. The document's current chunks remain
	// searchable in this state; cutover happens only when the new version
	// has fully landed.
	DocumentStatusReindexing DocumentStatus = "reindexing"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// Document represents an ingested source document. Status is owned by the
// ingestion pipeline and only changes through stage transitions.
type Document struct {
	ID               string
	TenantID         string
	Filename         string
	ContentType      string
	SourceURI        string
	ContentHash      string
	Status           DocumentStatus
	FailReason       string
	EmbeddingVersion string
	Tags             []string
	ChunkCount       int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewDocument creates a new Document in the pending state
func NewDocument(id, tenantID, filename, contentType, sourceURI, contentHash string, tags []string, createdAt time.Time) *Document {
	return &Document{
		ID:          id,
		TenantID:    tenantID,
		Filename:    filename,
		ContentType: contentType,
		SourceURI:   sourceURI,
		ContentHash: contentHash,
		Status:      DocumentStatusPending,
		Tags:        tags,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

// ValidateDocument validates a Document instance
func ValidateDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document cannot be nil")
	}

	if d.ID == "" {
		return fmt.Errorf("document ID is required")
	}

	if d.TenantID == "" {
		return fmt.Errorf("document TenantID is required")
	}

	if d.ContentHash == "" {
		return fmt.Errorf("document ContentHash is required")
	}

	if !isValidDocumentStatus(d.Status) {
		return fmt.Errorf("document Status is invalid: %s", d.Status)
	}

	return nil
}

// CanTransition reports whether a document may move from one status to
// another. Any non-terminal state may fail; failed never auto-recovers and
// only leaves via an explicit re-submission back to pending.
func CanTransition(from, to DocumentStatus) bool {
	if !isValidDocumentStatus(from) || !isValidDocumentStatus(to) {
		return false
	}
	if to == DocumentStatusFailed {
		return from != DocumentStatusFailed
	}

	switch from {
	case DocumentStatusPending:
		return to == DocumentStatusParsing
	case DocumentStatusParsing:
		return to == DocumentStatusChunking || to == DocumentStatusIndexed
	case DocumentStatusChunking:
		return to == DocumentStatusEmbedding || to == DocumentStatusIndexed
	case DocumentStatusEmbedding:
		return to == DocumentStatusIndexing
	case DocumentStatusIndexing:
		return to == DocumentStatusIndexed
	case DocumentStatusIndexed:
		// re-index runs the pipeline again under a new embedding version;
		// the document never leaves the searchable states while it does
		return to == DocumentStatusReindexing
	case DocumentStatusReindexing:
		return to == DocumentStatusIndexed
	case DocumentStatusFailed:
		return to == DocumentStatusPending
	}
	return false
}

// isValidDocumentStatus checks if a DocumentStatus is valid
func isValidDocumentStatus(s DocumentStatus) bool {
	switch s {
	case DocumentStatusPending, DocumentStatusParsing, DocumentStatusChunking,
		DocumentStatusEmbedding, DocumentStatusIndexing, DocumentStatusIndexed,
		DocumentStatusReindexing, DocumentStatusFailed:
		return true
	}
	return false
}
