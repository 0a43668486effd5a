package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/policy-analyst/internal/core/domain"
)

// ChunkStore persists the immutable chunk corpus plus a per-document
// indexing status row.
type ChunkStore struct {
	db *sql.DB
}

func NewChunkStore(db *sql.DB) *ChunkStore {
	return &ChunkStore{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *ChunkStore) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082301)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	page_from INTEGER NOT NULL,
	page_to INTEGER NOT NULL,
	text TEXT NOT NULL,
	token_count INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);

CREATE TABLE IF NOT EXISTS document_status (
	document_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	error_message TEXT,
	updated_at TIMESTAMPTZ NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// SaveChunks upserts by chunk id: re-ingesting a page replaces its chunks
// rather than duplicating them.
func (r *ChunkStore) SaveChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const query = `
INSERT INTO chunks (id, document_id, page_from, page_to, text, token_count, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE
SET text = EXCLUDED.text, token_count = EXCLUDED.token_count, created_at = EXCLUDED.created_at
`
	for _, chunk := range chunks {
		if _, err := tx.ExecContext(ctx, query,
			chunk.ID, chunk.DocumentID, chunk.Pages.From, chunk.Pages.To,
			chunk.Text, chunk.TokenCount, chunk.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert chunk %s: %w", chunk.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk tx: %w", err)
	}
	return nil
}

func (r *ChunkStore) GetChunk(ctx context.Context, id string) (*domain.Chunk, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, document_id, page_from, page_to, text, token_count, created_at
FROM chunks
WHERE id = $1
`, id)

	var chunk domain.Chunk
	err := row.Scan(
		&chunk.ID, &chunk.DocumentID, &chunk.Pages.From, &chunk.Pages.To,
		&chunk.Text, &chunk.TokenCount, &chunk.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrChunkNotFound, "get chunk", fmt.Errorf("id %s", id))
		}
		return nil, fmt.Errorf("scan chunk: %w", err)
	}
	return &chunk, nil
}

func (r *ChunkStore) ListByDocument(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, page_from, page_to, text, token_count, created_at
FROM chunks
WHERE document_id = $1
ORDER BY page_from, id
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var out []domain.Chunk
	for rows.Next() {
		var chunk domain.Chunk
		if err := rows.Scan(
			&chunk.ID, &chunk.DocumentID, &chunk.Pages.From, &chunk.Pages.To,
			&chunk.Text, &chunk.TokenCount, &chunk.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		out = append(out, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk rows: %w", err)
	}
	return out, nil
}

func (r *ChunkStore) MarkStatus(ctx context.Context, documentID string, status domain.ChunkStatus, errMessage string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO document_status (document_id, status, error_message, updated_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (document_id) DO UPDATE
SET status = EXCLUDED.status, error_message = EXCLUDED.error_message, updated_at = EXCLUDED.updated_at
`, documentID, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark document status: %w", err)
	}
	return nil
}
