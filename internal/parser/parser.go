// Package parser extracts plain text and structural hints from raw document
// blobs. One parser per content type; the ingestion pipeline depends only on
// the Parser interface.
package parser

import (
	"context"
	"strings"

	"github.com/lodestone-ai/lodestone/internal/domain"
)

// SectionHint marks a structural boundary (heading, page break) in the
// extracted text by rune offset. The chunker prefers to split on these.
type SectionHint struct {
	Title  string
	Offset int
	Page   int
}

// Extraction is the result of parsing one document blob
type Extraction struct {
	Text     string
	Sections []SectionHint
}

// Parser extracts text from a document blob of a single content type
type Parser interface {
	Extract(ctx context.Context, blob []byte) (*Extraction, error)
}

// Registry routes extraction to the parser registered for a content type
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry creates a Registry with the built-in parsers registered
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	r.Register("text/plain", &TextParser{})
	r.Register("text/markdown", &MarkdownParser{})
	r.Register("text/html", &HTMLParser{})
	return r
}

// Register associates a parser with a content type
func (r *Registry) Register(contentType string, p Parser) {
	r.parsers[normalizeContentType(contentType)] = p
}

// Extract parses blob with the parser registered for contentType. Unknown
// content types fail with ErrUnsupportedFormat.
func (r *Registry) Extract(ctx context.Context, blob []byte, contentType string) (*Extraction, error) {
	p, ok := r.parsers[normalizeContentType(contentType)]
	if !ok {
		return nil, domain.ErrUnsupportedFormat
	}
	return p.Extract(ctx, blob)
}

// Supports reports whether a parser is registered for contentType
func (r *Registry) Supports(contentType string) bool {
	_, ok := r.parsers[normalizeContentType(contentType)]
	return ok
}

func normalizeContentType(ct string) string {
	// strip parameters such as "; charset=utf-8"
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
