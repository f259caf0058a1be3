package parser

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/lodestone-ai/lodestone/internal/domain"
)

// TextParser handles text/plain blobs
type TextParser struct{}

func (p *TextParser) Extract(_ context.Context, blob []byte) (*Extraction, error) {
	if !utf8.Valid(blob) {
		return nil, domain.ErrParseFailed
	}
	return &Extraction{Text: strings.TrimSpace(string(blob))}, nil
}

// MarkdownParser handles text/markdown blobs. Headings become section hints
// so the chunker can prefer heading boundaries.
type MarkdownParser struct{}

func (p *MarkdownParser) Extract(_ context.Context, blob []byte) (*Extraction, error) {
	if !utf8.Valid(blob) {
		return nil, domain.ErrParseFailed
	}

	var b strings.Builder
	var sections []SectionHint

	lines := strings.Split(string(blob), "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			title := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			sections = append(sections, SectionHint{
				Title:  title,
				Offset: utf8.RuneCountInString(b.String()),
			})
			b.WriteString(title)
			b.WriteString("\n")
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	// trim only trailing whitespace so section offsets stay valid
	return &Extraction{
		Text:     strings.TrimRight(b.String(), " \n\t"),
		Sections: sections,
	}, nil
}
