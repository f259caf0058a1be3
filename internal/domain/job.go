package domain

import (
	"fmt"
	"time"
)

// IngestionJob is the work unit for the ingestion pipeline, enqueued once per
// content-hash-distinct upload. Delivery is at-least-once; the pipeline must
// be idempotent against duplicates.
type IngestionJob struct {
	ID               string
	DocumentID       string
	ContentHash      string
	EmbeddingVersion string
	Attempt          int
	EnqueuedAt       time.Time
}

// NewIngestionJob creates a new IngestionJob instance
func NewIngestionJob(id, documentID, contentHash, embeddingVersion string, enqueuedAt time.Time) *IngestionJob {
	return &IngestionJob{
		ID:               id,
		DocumentID:       documentID,
		ContentHash:      contentHash,
		EmbeddingVersion: embeddingVersion,
		EnqueuedAt:       enqueuedAt,
	}
}

// ValidateIngestionJob validates an IngestionJob instance
func ValidateIngestionJob(j *IngestionJob) error {
	if j == nil {
		return fmt.Errorf("ingestion job cannot be nil")
	}

	if j.ID == "" {
		return fmt.Errorf("ingestion job ID is required")
	}

	if j.DocumentID == "" {
		return fmt.Errorf("ingestion job DocumentID is required")
	}

	if j.ContentHash == "" {
		return fmt.Errorf("ingestion job ContentHash is required")
	}

	if j.Attempt < 0 {
		return fmt.Errorf("ingestion job Attempt cannot be negative")
	}

	return nil
}
