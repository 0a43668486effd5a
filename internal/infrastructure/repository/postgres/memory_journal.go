package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillkom/policy-analyst/internal/core/domain"
)

// MemoryJournal is the append-only run-outcome journal backing parameter
// adaptation. Rows are never updated or deleted.
type MemoryJournal struct {
	db *sql.DB
}

func NewMemoryJournal(db *sql.DB) *MemoryJournal {
	return &MemoryJournal{db: db}
}

func (r *MemoryJournal) EnsureSchema(ctx context.Context) error {
	const query = `
CREATE TABLE IF NOT EXISTS memory_records (
	id TEXT PRIMARY KEY,
	recorded_at TIMESTAMPTZ NOT NULL,
	params_version INTEGER NOT NULL,
	alpha DOUBLE PRECISION NOT NULL,
	top_k INTEGER NOT NULL,
	refinement_depth INTEGER NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	latency_ms BIGINT NOT NULL,
	verified BOOLEAN NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memory_records_recorded_at ON memory_records(recorded_at DESC);
`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute memory schema ddl: %w", err)
	}
	return nil
}

func (r *MemoryJournal) Append(ctx context.Context, record domain.MemoryRecord) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO memory_records (id, recorded_at, params_version, alpha, top_k, refinement_depth, confidence, latency_ms, verified)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`,
		record.ID, record.RecordedAt, record.Params.Version, record.Params.Alpha,
		record.Params.TopK, record.Params.RefinementDepth,
		record.Confidence, record.Latency.Milliseconds(), record.Verified,
	)
	if err != nil {
		return fmt.Errorf("insert memory record: %w", err)
	}
	return nil
}

// Load returns up to limit records, newest first.
func (r *MemoryJournal) Load(ctx context.Context, limit int) ([]domain.MemoryRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT id, recorded_at, params_version, alpha, top_k, refinement_depth, confidence, latency_ms, verified
FROM memory_records
ORDER BY recorded_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query memory records: %w", err)
	}
	defer rows.Close()

	var out []domain.MemoryRecord
	for rows.Next() {
		var record domain.MemoryRecord
		var latencyMs int64
		if err := rows.Scan(
			&record.ID, &record.RecordedAt, &record.Params.Version, &record.Params.Alpha,
			&record.Params.TopK, &record.Params.RefinementDepth,
			&record.Confidence, &latencyMs, &record.Verified,
		); err != nil {
			return nil, fmt.Errorf("scan memory record: %w", err)
		}
		record.Latency = millisecondsToDuration(latencyMs)
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory records: %w", err)
	}
	return out, nil
}

func millisecondsToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
