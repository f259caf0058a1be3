package repository

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lodestone-ai/lodestone/internal/domain"
	"github.com/pgvector/pgvector-go"
)

// ChunkRepository implements the vector index capability over
// Postgres+pgvector: upserts, deletes, dense similarity search, and lexical
// full-text search.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx dbtx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

// Upsert writes chunks to the index. The key is (id, embedding_version), so
// re-ingestion overwrites in place while a re-index under a new version
// leaves the old version's rows untouched until cutover.
func (r *ChunkRepository) Upsert(ctx context.Context, chunks []*domain.Chunk) error {
	for _, c := range chunks {
		if err := domain.ValidateChunk(c); err != nil {
			return err
		}
		_, err := r.db.Exec(ctx,
			`INSERT INTO chunks
				(id, document_id, tenant_id, chunk_index, content, page, section, tags, embedding_version, embedding, created_at)
			 VALUES
				($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (id, embedding_version) DO UPDATE SET
				content = EXCLUDED.content,
				page = EXCLUDED.page,
				section = EXCLUDED.section,
				tags = EXCLUDED.tags,
				embedding = EXCLUDED.embedding,
				created_at = EXCLUDED.created_at`,
			c.ID, c.DocumentID, c.TenantID, c.Index, c.Text, c.Page,
			nullableString(c.Section), c.Tags, c.EmbeddingVersion,
			pgvector.NewVector(c.Embedding), c.CreatedAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteByDocument removes a document's chunks. An empty version removes all
// versions (document deletion cascade).
func (r *ChunkRepository) DeleteByDocument(ctx context.Context, documentID, version string) error {
	if version == "" {
		_, err := r.db.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
		return err
	}
	_, err := r.db.Exec(ctx,
		`DELETE FROM chunks WHERE document_id = $1 AND embedding_version = $2`,
		documentID, version)
	return err
}

// SearchDense returns the chunks nearest to the query vector by cosine
// distance, constrained by the filters. Only chunks of indexed or reindexing
// documents are visible, so failed or half-ingested documents never leak
// into results.
func (r *ChunkRepository) SearchDense(ctx context.Context, vector []float32, filters domain.SearchFilters, limit int) ([]*domain.ScoredChunk, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT c.id, c.document_id, c.tenant_id, c.chunk_index, c.content, c.page, c.section, c.embedding_version, c.embedding,
		       1.0 / (1.0 + (c.embedding <=> $1)) AS score
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.tenant_id = $2 AND c.embedding_version = $3 AND d.status IN ('indexed', 'reindexing')`
	args := []any{pgvector.NewVector(vector), filters.TenantID, filters.EmbeddingVersion}
	query, args = appendChunkFilters(query, args, filters)
	query += ` ORDER BY c.embedding <=> $1 LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, limit)

	return r.queryScoredChunks(ctx, query, args, nil)
}

// SearchLexical returns chunks matching the query text by full-text rank.
// Raw ts_rank_cd values are normalized into (0,1) so lexical and dense
// scores are comparable during fusion.
func (r *ChunkRepository) SearchLexical(ctx context.Context, queryText string, filters domain.SearchFilters, limit int) ([]*domain.ScoredChunk, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT c.id, c.document_id, c.tenant_id, c.chunk_index, c.content, c.page, c.section, c.embedding_version, c.embedding,
		       ts_rank_cd(to_tsvector('english', c.content), websearch_to_tsquery('english', $1)) AS score
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.tenant_id = $2 AND c.embedding_version = $3 AND d.status IN ('indexed', 'reindexing')
		  AND to_tsvector('english', c.content) @@ websearch_to_tsquery('english', $1)`
	args := []any{queryText, filters.TenantID, filters.EmbeddingVersion}
	query, args = appendChunkFilters(query, args, filters)
	query += ` ORDER BY score DESC LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, limit)

	normalize := func(score float32) float32 {
		return score / (score + 1)
	}
	return r.queryScoredChunks(ctx, query, args, normalize)
}

func appendChunkFilters(query string, args []any, filters domain.SearchFilters) (string, []any) {
	if len(filters.DocumentIDs) > 0 {
		args = append(args, filters.DocumentIDs)
		query += ` AND c.document_id = ANY($` + strconv.Itoa(len(args)) + `)`
	}
	if len(filters.Tags) > 0 {
		args = append(args, filters.Tags)
		query += ` AND c.tags && $` + strconv.Itoa(len(args))
	}
	return query, args
}

func (r *ChunkRepository) queryScoredChunks(ctx context.Context, query string, args []any, normalize func(float32) float32) ([]*domain.ScoredChunk, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]*domain.ScoredChunk, 0)
	for rows.Next() {
		sc, err := scanScoredChunk(rows)
		if err != nil {
			return nil, err
		}
		if normalize != nil {
			sc.Score = normalize(sc.Score)
		}
		results = append(results, sc)
	}
	return results, rows.Err()
}

func scanScoredChunk(rows pgx.Rows) (*domain.ScoredChunk, error) {
	var c domain.Chunk
	var section *string
	var embedding pgvector.Vector
	var score float32
	err := rows.Scan(&c.ID, &c.DocumentID, &c.TenantID, &c.Index, &c.Text,
		&c.Page, &section, &c.EmbeddingVersion, &embedding, &score)
	if err != nil {
		return nil, err
	}
	if section != nil {
		c.Section = *section
	}
	c.Embedding = embedding.Slice()
	return &domain.ScoredChunk{Chunk: &c, Score: score}, nil
}

