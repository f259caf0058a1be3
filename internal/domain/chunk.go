package domain

import (
	"fmt"
	"time"
)

// Chunk is a bounded passage of a document's text with provenance metadata.
// The ID is derived from the document ID and chunk index, so reprocessing a
// document with the same chunker config yields identical chunk IDs.
type Chunk struct {
	ID               string
	DocumentID       string
	TenantID         string
	Index            int
	Text             string
	Page             int
	Section          string
	Tags             []string
	EmbeddingVersion string
	Embedding        []float32
	CreatedAt        time.Time
}

// ChunkID returns the deterministic chunk identifier for a document and
// position within it.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s:%05d", documentID, index)
}

// ValidateChunk validates a Chunk instance
func ValidateChunk(c *Chunk) error {
	if c == nil {
		return fmt.Errorf("chunk cannot be nil")
	}

	if c.DocumentID == "" {
		return fmt.Errorf("chunk DocumentID is required")
	}

	if c.Index < 0 {
		return fmt.Errorf("chunk Index cannot be negative")
	}

	if c.ID != ChunkID(c.DocumentID, c.Index) {
		return fmt.Errorf("chunk ID does not match document and index")
	}

	if c.Text == "" {
		return fmt.Errorf("chunk Text is required")
	}

	return nil
}
