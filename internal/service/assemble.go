package service

import (
	"strings"

	"github.com/lodestone-ai/lodestone/internal/domain"
)

// AssembleConfig controls context assembly
type AssembleConfig struct {
	TokenBudget int
	// NearDupOverlap is the token-set overlap ratio above which two chunks
	// are treated as duplicates
	NearDupOverlap float64
}

// DefaultAssembleConfig provides sane defaults for context assembly
func DefaultAssembleConfig() AssembleConfig {
	return AssembleConfig{
		TokenBudget:    3000,
		NearDupOverlap: 0.9,
	}
}

// Assembler merges, deduplicates, and truncates retrieved passages into a
// token-bounded AnswerContext with stable citation anchors.
type Assembler struct {
	cfg AssembleConfig
}

// NewAssembler creates an Assembler with the given configuration
func NewAssembler(cfg AssembleConfig) *Assembler {
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = 3000
	}
	if cfg.NearDupOverlap <= 0 || cfg.NearDupOverlap > 1 {
		cfg.NearDupOverlap = 0.9
	}
	return &Assembler{cfg: cfg}
}

// Assemble selects passages from the retrieval result in ranked order until
// the token budget is reached. Near-identical chunks are folded, keeping the
// higher-scored instance. Citation anchors are dense, starting at 0.
func (a *Assembler) Assemble(result *domain.RetrievalResult, tokenBudget int) *domain.AnswerContext {
	if tokenBudget <= 0 {
		tokenBudget = a.cfg.TokenBudget
	}

	ctx := &domain.AnswerContext{
		Passages:  []domain.ContextPassage{},
		Citations: make(map[int]string),
	}
	if result.Empty() {
		return ctx
	}

	deduped := a.dedupe(result.Chunks)

	used := 0
	for _, sc := range deduped {
		text := sc.Chunk.Text
		tokens := CountTokens(text)
		remaining := tokenBudget - used
		if remaining <= 0 {
			break
		}

		if tokens > remaining {
			truncated := truncateAtSentence(text, remaining)
			kept := CountTokens(truncated)
			// dropping beats keeping less than half a passage
			if truncated == "" || kept*2 < tokens {
				continue
			}
			text = truncated
			tokens = kept
		}

		anchor := len(ctx.Passages)
		ctx.Passages = append(ctx.Passages, domain.ContextPassage{
			Anchor:  anchor,
			ChunkID: sc.Chunk.ID,
			Text:    text,
			Score:   sc.Score,
			Page:    sc.Chunk.Page,
			Section: sc.Chunk.Section,
		})
		ctx.Citations[anchor] = sc.Chunk.ID
		used += tokens
	}

	ctx.TokensUsed = used
	return ctx
}

// dedupe folds chunks whose normalized text is identical or overlaps nearly
// completely, keeping the higher-scored instance. Output preserves rank
// order of the kept chunks.
func (a *Assembler) dedupe(chunks []*domain.ScoredChunk) []*domain.ScoredChunk {
	kept := make([]*domain.ScoredChunk, 0, len(chunks))
	tokenSets := make([]map[string]struct{}, 0, len(chunks))
	seen := make(map[string]struct{}, len(chunks))

	for _, sc := range chunks {
		if sc == nil || sc.Chunk == nil {
			continue
		}
		if _, dup := seen[sc.Chunk.ID]; dup {
			continue
		}
		seen[sc.Chunk.ID] = struct{}{}

		set := tokenSet(sc.Chunk.Text)
		replaced := false
		dup := false
		for i := range kept {
			if overlapRatio(set, tokenSets[i]) >= a.cfg.NearDupOverlap {
				dup = true
				if sc.Score > kept[i].Score {
					kept[i] = sc
					tokenSets[i] = set
					replaced = true
				}
				break
			}
		}
		if dup && !replaced {
			continue
		}
		if !dup {
			kept = append(kept, sc)
			tokenSets = append(tokenSets, set)
		}
	}

	return kept
}

func tokenSet(text string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.Trim(w, ".,;:!?\"'()[]")] = struct{}{}
	}
	delete(set, "")
	return set
}

// overlapRatio returns |a∩b| / min(|a|,|b|)
func overlapRatio(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	shared := 0
	for w := range small {
		if _, ok := large[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(small))
}

// truncateAtSentence cuts text down to at most maxTokens, preferring the
// last sentence boundary that fits. Returns "" when nothing fits.
func truncateAtSentence(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	words := strings.Fields(text)
	if len(words) <= maxTokens {
		return text
	}

	clipped := strings.Join(words[:maxTokens], " ")
	for i := len(clipped) - 1; i > 0; i-- {
		switch clipped[i] {
		case '.', '!', '?':
			return strings.TrimSpace(clipped[:i+1])
		}
	}
	return strings.TrimSpace(clipped)
}
