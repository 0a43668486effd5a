package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirillkom/policy-analyst/internal/core/domain"
)

// TraceStore persists run traces as JSONB documents keyed by run id. The
// trace is written once at the end of a run and read back whole, so a
// document column beats a normalized schema here.
type TraceStore struct {
	db *sql.DB
}

func NewTraceStore(db *sql.DB) *TraceStore {
	return &TraceStore{db: db}
}

func (r *TraceStore) EnsureSchema(ctx context.Context) error {
	const query = `
CREATE TABLE IF NOT EXISTS run_traces (
	run_id TEXT PRIMARY KEY,
	query TEXT NOT NULL,
	final_stage TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	trace JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_traces_started_at ON run_traces(started_at DESC);
`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute trace schema ddl: %w", err)
	}
	return nil
}

func (r *TraceStore) SaveTrace(ctx context.Context, trace domain.RunTrace) error {
	payload, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO run_traces (run_id, query, final_stage, started_at, trace)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (run_id) DO UPDATE
SET final_stage = EXCLUDED.final_stage, trace = EXCLUDED.trace
`, trace.RunID, trace.Query, string(trace.FinalStage), trace.StartedAt, payload)
	if err != nil {
		return fmt.Errorf("insert run trace: %w", err)
	}
	return nil
}

func (r *TraceStore) GetTrace(ctx context.Context, runID string) (*domain.RunTrace, error) {
	row := r.db.QueryRowContext(ctx, `SELECT trace FROM run_traces WHERE run_id = $1`, runID)

	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrChunkNotFound, "get trace", fmt.Errorf("run %s", runID))
		}
		return nil, fmt.Errorf("scan run trace: %w", err)
	}

	var trace domain.RunTrace
	if err := json.Unmarshal(payload, &trace); err != nil {
		return nil, fmt.Errorf("unmarshal trace: %w", err)
	}
	return &trace, nil
}

// ListTraces returns trace summaries for the diagnostics export, newest
// first.
func (r *TraceStore) ListTraces(ctx context.Context, limit int) ([]domain.RunTrace, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT trace FROM run_traces ORDER BY started_at DESC LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query run traces: %w", err)
	}
	defer rows.Close()

	var out []domain.RunTrace
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan run trace row: %w", err)
		}
		var trace domain.RunTrace
		if err := json.Unmarshal(payload, &trace); err != nil {
			return nil, fmt.Errorf("unmarshal trace row: %w", err)
		}
		out = append(out, trace)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run traces: %w", err)
	}
	return out, nil
}
