package xlsx

import (
	"testing"
	"time"

	"github.com/kirillkom/policy-analyst/internal/core/domain"
)

func sampleTraces() []domain.RunTrace {
	return []domain.RunTrace{
		{
			RunID:      "run-1",
			Query:      "how many leave days?",
			StartedAt:  time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC),
			Params:     domain.RunParameters{Version: 3, Alpha: 0.6, TopK: 8, RefinementDepth: 2},
			FinalStage: domain.StageDone,
			Stages: []domain.StageTrace{
				{Stage: domain.StageRetrieve, Duration: 40 * time.Millisecond, Candidates: 8},
				{Stage: domain.StageVerify, Duration: 120 * time.Millisecond, Note: "passed"},
			},
		},
		{
			RunID:      "run-2",
			Query:      "remote work policy?",
			StartedAt:  time.Date(2026, 7, 1, 11, 0, 0, 0, time.UTC),
			Params:     domain.RunParameters{Version: 4, Alpha: 0.55, TopK: 10, RefinementDepth: 2},
			FinalStage: domain.StageError,
			Stages: []domain.StageTrace{
				{Stage: domain.StageRetrieve, Duration: 35 * time.Millisecond, Err: "no evidence"},
			},
		},
	}
}

func sampleRecords() []domain.MemoryRecord {
	return []domain.MemoryRecord{
		{
			ID:         "rec-1",
			RecordedAt: time.Date(2026, 7, 1, 10, 0, 5, 0, time.UTC),
			Params:     domain.RunParameters{Version: 3, Alpha: 0.6, TopK: 8, RefinementDepth: 2},
			Confidence: 0.9,
			Latency:    1500 * time.Millisecond,
			Verified:   true,
		},
	}
}

func TestBuildWritesOneRowPerRun(t *testing.T) {
	f, err := NewExporter().Build(sampleTraces(), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(runsSheet)
	if err != nil {
		t.Fatalf("GetRows(%s) error = %v", runsSheet, err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2 runs", len(rows))
	}
	if rows[1][0] != "run-1" || rows[1][3] != "done" {
		t.Fatalf("run-1 row = %v", rows[1])
	}
	if rows[1][9] != "160" {
		t.Fatalf("total_ms = %q, want 160", rows[1][9])
	}
	if rows[2][3] != "error" {
		t.Fatalf("run-2 final stage = %q, want error", rows[2][3])
	}
}

func TestBuildWritesOneRowPerStage(t *testing.T) {
	f, err := NewExporter().Build(sampleTraces(), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(stagesSheet)
	if err != nil {
		t.Fatalf("GetRows(%s) error = %v", stagesSheet, err)
	}
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want header + 3 stages", len(rows))
	}
	if rows[1][0] != "run-1" || rows[1][1] != "retrieve" {
		t.Fatalf("first stage row = %v", rows[1])
	}
	if rows[3][0] != "run-2" || rows[3][5] != "no evidence" {
		t.Fatalf("error stage row = %v", rows[3])
	}
}

func TestSaveWritesWorkbookToDisk(t *testing.T) {
	path := t.TempDir() + "/runs.xlsx"
	if err := NewExporter().Save(sampleTraces(), sampleRecords(), path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
}

func TestBuildWritesMemorySheet(t *testing.T) {
	f, err := NewExporter().Build(nil, sampleRecords())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(memorySheet)
	if err != nil {
		t.Fatalf("GetRows(%s) error = %v", memorySheet, err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want header + 1 record", len(rows))
	}
	if rows[1][0] != "rec-1" || rows[1][7] != "1500" {
		t.Fatalf("memory row = %v", rows[1])
	}
}

func TestBuildEmptyTraceListStillHasHeaders(t *testing.T) {
	f, err := NewExporter().Build(nil, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(runsSheet)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 1 || rows[0][0] != "run_id" {
		t.Fatalf("rows = %v, want header only", rows)
	}
}
