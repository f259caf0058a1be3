package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lodestone-ai/lodestone/internal/domain"
)

// DocumentRepository persists documents and their ingestion state
type DocumentRepository struct {
	pool *pgxpool.Pool
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

const documentColumns = `id, tenant_id, filename, content_type, source_uri, content_hash, status, fail_reason, embedding_version, tags, chunk_count, created_at, updated_at`

func (r *DocumentRepository) Create(ctx context.Context, d *domain.Document) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO documents (id, tenant_id, filename, content_type, source_uri, content_hash, status, fail_reason, embedding_version, tags, chunk_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		d.ID, d.TenantID, d.Filename, d.ContentType, d.SourceURI, d.ContentHash,
		d.Status, nullableString(d.FailReason), nullableString(d.EmbeddingVersion),
		d.Tags, d.ChunkCount, d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	return scanDocument(row)
}

// FindByHash returns the tenant's most recent document with the given
// content hash, used as the ingestion idempotency check.
func (r *DocumentRepository) FindByHash(ctx context.Context, tenantID, contentHash string) (*domain.Document, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE tenant_id = $1 AND content_hash = $2
		 ORDER BY created_at DESC LIMIT 1`,
		tenantID, contentHash)
	return scanDocument(row)
}

func (r *DocumentRepository) List(ctx context.Context, tenantID string, offset, limit int) ([]*domain.Document, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM documents WHERE tenant_id = $1`, tenantID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE tenant_id = $1
		 ORDER BY created_at DESC, id DESC
		 OFFSET $2 LIMIT $3`,
		tenantID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}
	return docs, total, rows.Err()
}

// UpdateStatus advances a document's status, guarded by the expected current
// status so concurrent transitions cannot clobber each other.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, from, to domain.DocumentStatus, failReason string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE documents SET status = $1, fail_reason = $2, updated_at = $3
		 WHERE id = $4 AND status = $5`,
		to, nullableString(failReason), time.Now().UTC(), id, from)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM documents WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return domain.ErrDocumentNotFound
		}
		return domain.ErrInvalidTransition
	}
	return nil
}

// FinishIndexing marks the document indexed under version and removes its
// chunks from any other embedding version in the same transaction, so the
// old version stays retrievable until the new one has fully landed.
func (r *DocumentRepository) FinishIndexing(ctx context.Context, id, version string, chunkCount int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE documents
		 SET status = $1, embedding_version = $2, chunk_count = $3, fail_reason = NULL, updated_at = $4
		 WHERE id = $5`,
		domain.DocumentStatusIndexed, version, chunkCount, time.Now().UTC(), id)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM chunks WHERE document_id = $1 AND embedding_version <> $2`,
		id, version)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

// ListIndexed returns ids of indexed documents not yet on version, used to
// drive an embedding-version migration.
func (r *DocumentRepository) ListIndexed(ctx context.Context, notOnVersion string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM documents
		 WHERE status = $1 AND (embedding_version IS NULL OR embedding_version <> $2)
		 ORDER BY created_at`,
		domain.DocumentStatusIndexed, notOnVersion)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AdvisoryLock takes a session-level advisory lock keyed on the document id.
// The lock is held on a dedicated pooled connection until release is called.
func (r *DocumentRepository) AdvisoryLock(ctx context.Context, id string) (func(), bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}

	var locked bool
	if err := conn.QueryRow(ctx,
		`SELECT pg_try_advisory_lock(hashtextextended($1, 0))`, id).Scan(&locked); err != nil {
		conn.Release()
		return nil, false, err
	}
	if !locked {
		conn.Release()
		return nil, false, nil
	}

	release := func() {
		// unlock on the same session that acquired the lock
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, id)
		conn.Release()
	}
	return release, true, nil
}

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var d domain.Document
	var failReason, version *string
	err := row.Scan(&d.ID, &d.TenantID, &d.Filename, &d.ContentType, &d.SourceURI,
		&d.ContentHash, &d.Status, &failReason, &version, &d.Tags, &d.ChunkCount,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	if failReason != nil {
		d.FailReason = *failReason
	}
	if version != nil {
		d.EmbeddingVersion = *version
	}
	return &d, nil
}
