package domain

// SearchFilters constrain retrieval to a tenant and optionally to specific
// documents or tags. EmbeddingVersion is mandatory on every index query so
// vectors from different embedding models are never compared.
type SearchFilters struct {
	TenantID         string
	DocumentIDs      []string
	Tags             []string
	EmbeddingVersion string
}

// ScoredChunk pairs a chunk with its retrieval score and rank
type ScoredChunk struct {
	Chunk *Chunk
	Score float32
	Rank  int
}

// RetrievalResult is the ordered output of one retrieval pass. Transient,
// produced fresh per query.
type RetrievalResult struct {
	Query  string
	Chunks []*ScoredChunk
}

// Empty reports whether retrieval found no candidates
func (r *RetrievalResult) Empty() bool {
	return r == nil || len(r.Chunks) == 0
}

// ContextPassage is a chunk selected into an answer context, tagged with the
// citation anchor generation uses to reference it.
type ContextPassage struct {
	Anchor  int
	ChunkID string
	Text    string
	Score   float32
	Page    int
	Section string
}

// AnswerContext is the assembled, token-bounded passage set for one
// generation call plus the anchor -> chunk ID citation map.
type AnswerContext struct {
	Passages   []ContextPassage
	Citations  map[int]string
	TokensUsed int
}

// Empty reports whether the context holds no passages
func (c *AnswerContext) Empty() bool {
	return c == nil || len(c.Passages) == 0
}
