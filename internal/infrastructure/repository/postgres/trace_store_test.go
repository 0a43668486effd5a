package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/policy-analyst/internal/core/domain"
)

func newTraceStoreWithMock(t *testing.T) (*TraceStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &TraceStore{db: db}, mock, func() { _ = db.Close() }
}

func TestGetTraceReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newTraceStoreWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT trace FROM run_traces").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetTrace(context.Background(), "missing")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrChunkNotFound) {
		t.Fatalf("expected not-found kind, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveAndGetTraceRoundTripsJSON(t *testing.T) {
	repo, mock, done := newTraceStoreWithMock(t)
	defer done()

	trace := domain.RunTrace{
		RunID:      "run-1",
		Query:      "leave days?",
		StartedAt:  time.Date(2026, 5, 3, 12, 0, 0, 0, time.UTC),
		Params:     domain.RunParameters{Version: 1, Alpha: 0.5, TopK: 5, RefinementDepth: 1},
		FinalStage: domain.StageDone,
		Stages: []domain.StageTrace{
			{Stage: domain.StageRetrieve, Duration: 40 * time.Millisecond, Candidates: 5},
		},
	}
	payload, _ := json.Marshal(trace)

	mock.ExpectExec("INSERT INTO run_traces").
		WithArgs("run-1", "leave days?", string(domain.StageDone), trace.StartedAt, payload).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT trace FROM run_traces").
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"trace"}).AddRow(payload))

	if err := repo.SaveTrace(context.Background(), trace); err != nil {
		t.Fatalf("SaveTrace() error = %v", err)
	}
	got, err := repo.GetTrace(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetTrace() error = %v", err)
	}
	if got.RunID != "run-1" || got.FinalStage != domain.StageDone || len(got.Stages) != 1 {
		t.Fatalf("trace %+v did not round-trip", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
