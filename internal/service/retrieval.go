package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/lodestone-ai/lodestone/internal/cache"
	"github.com/lodestone-ai/lodestone/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	defaultCandidateMultiplier = 4
	defaultMinCandidates       = 20
	defaultMaxCandidates       = 200
	defaultLexicalWeight       = 0.85
	defaultMMRLambda           = 0.65
	defaultMaxPairwiseSim      = 0.97
)

// ChunkSearcher defines the index searches the retriever depends on. Both
// searches return candidates with their stored vectors so diversity
// selection can measure pairwise similarity.
type ChunkSearcher interface {
	SearchDense(ctx context.Context, vector []float32, filters domain.SearchFilters, limit int) ([]*domain.ScoredChunk, error)
	SearchLexical(ctx context.Context, query string, filters domain.SearchFilters, limit int) ([]*domain.ScoredChunk, error)
}

// Reranker re-orders an already-diversified result set with an external
// relevance scorer. Optional.
type Reranker interface {
	Rerank(ctx context.Context, query string, chunks []*domain.ScoredChunk) ([]*domain.ScoredChunk, error)
}

// RetrieveConfig controls candidate pooling and diversity selection
type RetrieveConfig struct {
	TopK                int
	CandidateMultiplier int
	MinCandidates       int
	MaxCandidates       int
	// Lambda balances relevance against redundancy in MMR selection
	Lambda        float64
	Hybrid        bool
	LexicalWeight float32
	// MaxPairwiseSimilarity rejects candidates too similar to an already
	// selected chunk regardless of relevance
	MaxPairwiseSimilarity float32
	// DefaultVersion is applied when filters carry no embedding version
	DefaultVersion string
}

// DefaultRetrieveConfig provides sane defaults for retrieval
func DefaultRetrieveConfig(version string) RetrieveConfig {
	return RetrieveConfig{
		TopK:                  5,
		CandidateMultiplier:   defaultCandidateMultiplier,
		MinCandidates:         defaultMinCandidates,
		MaxCandidates:         defaultMaxCandidates,
		Lambda:                defaultMMRLambda,
		Hybrid:                true,
		LexicalWeight:         defaultLexicalWeight,
		MaxPairwiseSimilarity: defaultMaxPairwiseSim,
		DefaultVersion:        version,
	}
}

// Retriever runs hybrid dense+lexical search over the chunk index,
// deduplicates the candidate pool, and applies MMR diversity selection.
type Retriever struct {
	index      ChunkSearcher
	embeddings EmbeddingClient
	reranker   Reranker
	results    *cache.Cache
	queryVecs  *cache.Cache
	cfg        RetrieveConfig
}

// NewRetriever creates a Retriever. reranker and caches may be nil.
func NewRetriever(index ChunkSearcher, embeddings EmbeddingClient, cfg RetrieveConfig) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = defaultCandidateMultiplier
	}
	if cfg.MinCandidates <= 0 {
		cfg.MinCandidates = defaultMinCandidates
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = defaultMaxCandidates
	}
	if cfg.Lambda <= 0 || cfg.Lambda >= 1 {
		cfg.Lambda = defaultMMRLambda
	}
	if cfg.LexicalWeight <= 0 {
		cfg.LexicalWeight = defaultLexicalWeight
	}
	return &Retriever{
		index:      index,
		embeddings: embeddings,
		cfg:        cfg,
	}
}

// WithReranker attaches an optional cross-encoder style reranker
func (r *Retriever) WithReranker(reranker Reranker) *Retriever {
	r.reranker = reranker
	return r
}

// WithCaches attaches read-through caches for results and query embeddings
func (r *Retriever) WithCaches(results, queryVecs *cache.Cache) *Retriever {
	r.results = results
	r.queryVecs = queryVecs
	return r
}

// Retrieve returns the top-k most relevant, diversity-selected chunks for
// the query under the given filters. An empty candidate pool yields an empty
// result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, queryText string, filters domain.SearchFilters, topK int) (*domain.RetrievalResult, error) {
	query := strings.TrimSpace(queryText)
	if query == "" {
		return nil, domain.ErrEmptyQuery
	}
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	if filters.EmbeddingVersion == "" {
		filters.EmbeddingVersion = r.cfg.DefaultVersion
	}

	cacheKey := resultCacheKey(query, filters, topK)
	if r.results != nil {
		if cached, ok := r.results.Get(cacheKey); ok {
			return cached.(*domain.RetrievalResult), nil
		}
	}

	candidateLimit := topK * r.cfg.CandidateMultiplier
	if candidateLimit < r.cfg.MinCandidates {
		candidateLimit = r.cfg.MinCandidates
	}
	if candidateLimit > r.cfg.MaxCandidates {
		candidateLimit = r.cfg.MaxCandidates
	}

	queryVec, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	// dense and lexical searches run concurrently and are joined before
	// diversity selection
	var dense, lexical []*domain.ScoredChunk
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		dense, err = r.index.SearchDense(gctx, queryVec, filters, candidateLimit)
		return err
	})
	if r.cfg.Hybrid {
		g.Go(func() error {
			var err error
			lexical, err = r.index.SearchLexical(gctx, query, filters, candidateLimit)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pool := mergeCandidates(dense, lexical, r.cfg.LexicalWeight)
	selected := selectMMR(pool, queryVec, topK, r.cfg.Lambda, r.cfg.MaxPairwiseSimilarity)

	// re-ranking happens on the diversified set, not the raw pool, so it
	// cannot re-introduce redundancy
	if r.reranker != nil && len(selected) > 1 {
		selected, err = r.reranker.Rerank(ctx, query, selected)
		if err != nil {
			return nil, err
		}
	}

	for i, sc := range selected {
		sc.Rank = i
	}

	result := &domain.RetrievalResult{Query: query, Chunks: selected}
	if r.results != nil {
		r.results.Set(cacheKey, result)
	}
	return result, nil
}

func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if r.queryVecs != nil {
		if cached, ok := r.queryVecs.Get(query); ok {
			return cached.([]float32), nil
		}
	}

	vectors, err := r.embeddings.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, domain.NewDomainError(domain.ErrCodeEmbedding, "query embedding batch size mismatch")
	}
	vec := Normalize(vectors[0])

	if r.queryVecs != nil {
		r.queryVecs.Set(query, vec)
	}
	return vec, nil
}

// mergeCandidates joins dense and lexical candidate lists keyed by chunk ID.
// A chunk found by both keeps the higher of the two normalized scores.
func mergeCandidates(dense, lexical []*domain.ScoredChunk, lexicalWeight float32) []*domain.ScoredChunk {
	byID := make(map[string]*domain.ScoredChunk, len(dense)+len(lexical))
	order := make([]string, 0, len(dense)+len(lexical))

	add := func(sc *domain.ScoredChunk, weight float32) {
		if sc == nil || sc.Chunk == nil {
			return
		}
		score := sc.Score * weight
		existing, ok := byID[sc.Chunk.ID]
		if !ok {
			clone := *sc
			clone.Score = score
			byID[sc.Chunk.ID] = &clone
			order = append(order, sc.Chunk.ID)
			return
		}
		if score > existing.Score {
			existing.Score = score
		}
		if existing.Chunk.Embedding == nil && sc.Chunk.Embedding != nil {
			existing.Chunk = sc.Chunk
		}
	}

	for _, sc := range dense {
		add(sc, 1)
	}
	for _, sc := range lexical {
		add(sc, lexicalWeight)
	}

	out := make([]*domain.ScoredChunk, 0, len(byID))
	for _, id := range order {
		out = append(out, byID[id])
	}
	sortCandidates(out)
	return out
}

// sortCandidates orders by score descending with ties broken by earlier
// chunk index, then lexicographic chunk ID.
func sortCandidates(chunks []*domain.ScoredChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		if chunks[i].Chunk.Index != chunks[j].Chunk.Index {
			return chunks[i].Chunk.Index < chunks[j].Chunk.Index
		}
		return chunks[i].Chunk.ID < chunks[j].Chunk.ID
	})
}

// selectMMR iteratively picks chunks maximizing
// lambda*relevance - (1-lambda)*max_similarity_to_selected, keeping
// redundant near-duplicates from crowding out distinct evidence.
func selectMMR(pool []*domain.ScoredChunk, queryVec []float32, k int, lambda float64, maxPairwiseSim float32) []*domain.ScoredChunk {
	if len(pool) == 0 || k <= 0 {
		return []*domain.ScoredChunk{}
	}

	selected := make([]*domain.ScoredChunk, 0, k)
	remaining := make([]*domain.ScoredChunk, len(pool))
	copy(remaining, pool)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		bestScore := float64(0)

		for i, cand := range remaining {
			maxSim := float32(0)
			for _, sel := range selected {
				sim := CosineSimilarity(cand.Chunk.Embedding, sel.Chunk.Embedding)
				if sim > maxSim {
					maxSim = sim
				}
			}
			if maxPairwiseSim > 0 && len(selected) > 0 && maxSim > maxPairwiseSim {
				continue
			}

			score := lambda*float64(cand.Score) - (1-lambda)*float64(maxSim)
			if bestIdx == -1 || score > bestScore || (score == bestScore && lessByPosition(cand, remaining[bestIdx])) {
				bestIdx = i
				bestScore = score
			}
		}

		if bestIdx == -1 {
			break
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected
}

func lessByPosition(a, b *domain.ScoredChunk) bool {
	if a.Chunk.Index != b.Chunk.Index {
		return a.Chunk.Index < b.Chunk.Index
	}
	return a.Chunk.ID < b.Chunk.ID
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Vectors stored in the index are unit length, so this is a dot product with
// a guard for unnormalized input.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func resultCacheKey(query string, filters domain.SearchFilters, topK int) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%d",
		filters.TenantID,
		filters.EmbeddingVersion,
		strings.Join(filters.DocumentIDs, ","),
		strings.Join(filters.Tags, ","),
		strings.ToLower(query),
		topK,
	)
}
