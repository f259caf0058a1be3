package service

import (
	"strings"
	"unicode"

	"github.com/lodestone-ai/lodestone/internal/parser"
)

// ChunkConfig controls how extracted text is split into passages. Sizes are
// in tokens (whitespace-delimited words).
type ChunkConfig struct {
	TargetTokens  int
	OverlapTokens int
	// Tolerance is how far past the target a chunk may run to reach a
	// sentence or section boundary.
	Tolerance int
	MaxChunks int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		TargetTokens:  1000,
		OverlapTokens: 200,
		Tolerance:     120,
		MaxChunks:     200,
	}
}

// Passage is one chunk of extracted text with provenance, before embedding.
type Passage struct {
	Text    string
	Section string
	Page    int
}

// Chunker splits extracted text into overlapping passages with stable
// boundaries. Output is deterministic for a given (text, config).
type Chunker struct {
	cfg ChunkConfig
}

// NewChunker creates a Chunker with the given configuration
func NewChunker(cfg ChunkConfig) *Chunker {
	if cfg.TargetTokens <= 0 {
		cfg = DefaultChunkConfig()
	}
	if cfg.OverlapTokens > cfg.TargetTokens/2 {
		cfg.OverlapTokens = cfg.TargetTokens / 2
	}
	if cfg.Tolerance < 0 {
		cfg.Tolerance = 0
	}
	return &Chunker{cfg: cfg}
}

// CountTokens returns the token count used throughout chunking and context
// budgeting.
func CountTokens(s string) int {
	return len(strings.Fields(s))
}

type sentence struct {
	text   string
	tokens int
	// rune offset of the sentence start in the source text
	offset int
	// true when the sentence begins a new section per the structural hints
	sectionStart bool
	sectionIdx   int
}

// Chunk splits text into ordered passages. Empty or whitespace-only text
// yields zero passages, never an error. Documents shorter than the target
// size yield exactly one passage.
func (c *Chunker) Chunk(text string, hints []parser.SectionHint) []Passage {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return nil
	}

	if CountTokens(clean) <= c.cfg.TargetTokens {
		return []Passage{{
			Text:    clean,
			Section: sectionAt(hints, 0),
			Page:    pageAt(hints, 0),
		}}
	}

	sentences := splitSentences(text, hints, c.cfg.TargetTokens)

	var passages []Passage
	start := 0
	for start < len(sentences) {
		if c.cfg.MaxChunks > 0 && len(passages) >= c.cfg.MaxChunks {
			break
		}

		end := start
		tokens := 0
		for end < len(sentences) {
			next := tokens + sentences[end].tokens
			if tokens > 0 && next > c.cfg.TargetTokens {
				// finish the crossing sentence when it fits within
				// tolerance; otherwise stop at the prior boundary
				if next <= c.cfg.TargetTokens+c.cfg.Tolerance {
					tokens = next
					end++
				}
				break
			}
			tokens = next
			end++
			// prefer closing at a section boundary once near the target
			if end < len(sentences) && sentences[end].sectionStart && tokens >= c.cfg.TargetTokens-c.cfg.Tolerance {
				break
			}
		}
		if end == start {
			end = start + 1
		}

		var b strings.Builder
		for i := start; i < end; i++ {
			if i > start {
				b.WriteString(" ")
			}
			b.WriteString(sentences[i].text)
		}
		passages = append(passages, Passage{
			Text:    b.String(),
			Section: sectionAt(hints, sentences[start].offset),
			Page:    pageAt(hints, sentences[start].offset),
		})

		if end >= len(sentences) {
			break
		}

		// overlap is measured backward from the boundary, never exceeding
		// half the target size
		nextStart := end
		if c.cfg.OverlapTokens > 0 {
			back := 0
			for nextStart > start+1 {
				if back+sentences[nextStart-1].tokens > c.cfg.OverlapTokens {
					break
				}
				back += sentences[nextStart-1].tokens
				nextStart--
			}
		}
		if nextStart <= start {
			nextStart = end
		}
		start = nextStart
	}

	return passages
}

// splitSentences breaks text into sentences, hard-splitting any single
// sentence longer than maxTokens so packing can always make progress.
func splitSentences(text string, hints []parser.SectionHint, maxTokens int) []sentence {
	runes := []rune(text)
	var out []sentence

	flush := func(start, end int) {
		raw := strings.TrimSpace(string(runes[start:end]))
		if raw == "" {
			return
		}
		words := strings.Fields(raw)
		for len(words) > maxTokens {
			out = append(out, sentence{
				text:   strings.Join(words[:maxTokens], " "),
				tokens: maxTokens,
				offset: start,
			})
			words = words[maxTokens:]
		}
		out = append(out, sentence{
			text:   strings.Join(words, " "),
			tokens: len(words),
			offset: start,
		})
	}

	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		isEnd := false
		switch r {
		case '.', '!', '?':
			isEnd = i+1 >= len(runes) || unicode.IsSpace(runes[i+1])
		case '\n':
			isEnd = i+1 < len(runes) && runes[i+1] == '\n'
		}
		if isEnd {
			flush(start, i+1)
			start = i + 1
		}
	}
	if start < len(runes) {
		flush(start, len(runes))
	}

	// mark sentences that begin a new section
	for i := 1; i < len(out); i++ {
		for _, h := range hints {
			if h.Offset > out[i-1].offset && h.Offset <= out[i].offset {
				out[i].sectionStart = true
				break
			}
		}
	}

	return out
}

func sectionAt(hints []parser.SectionHint, offset int) string {
	title := ""
	for _, h := range hints {
		if h.Offset <= offset {
			title = h.Title
		}
	}
	return title
}

func pageAt(hints []parser.SectionHint, offset int) int {
	page := 0
	for _, h := range hints {
		if h.Offset <= offset && h.Page > 0 {
			page = h.Page
		}
	}
	return page
}
