package xlsx

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/policy-analyst/internal/core/domain"
)

const (
	runsSheet   = "Runs"
	stagesSheet = "Stages"
	memorySheet = "Memory"
)

// Exporter renders stored run traces and memory records into an xlsx
// workbook for offline analysis. One row per run on the Runs sheet, one
// row per executed stage on the Stages sheet, one row per journal entry
// on the Memory sheet.
type Exporter struct{}

func NewExporter() *Exporter {
	return &Exporter{}
}

func (e *Exporter) Build(traces []domain.RunTrace, records []domain.MemoryRecord) (*excelize.File, error) {
	f := excelize.NewFile()
	f.SetSheetName("Sheet1", runsSheet)
	if _, err := f.NewSheet(stagesSheet); err != nil {
		return nil, fmt.Errorf("create stages sheet: %w", err)
	}
	if _, err := f.NewSheet(memorySheet); err != nil {
		return nil, fmt.Errorf("create memory sheet: %w", err)
	}

	runHeader := []any{"run_id", "query", "started_at", "final_stage", "alpha", "top_k", "refinement_depth", "params_version", "stages", "total_ms"}
	if err := f.SetSheetRow(runsSheet, "A1", &runHeader); err != nil {
		return nil, fmt.Errorf("write runs header: %w", err)
	}
	stageHeader := []any{"run_id", "stage", "duration_ms", "candidates", "note", "error"}
	if err := f.SetSheetRow(stagesSheet, "A1", &stageHeader); err != nil {
		return nil, fmt.Errorf("write stages header: %w", err)
	}
	memoryHeader := []any{"id", "recorded_at", "params_version", "alpha", "top_k", "refinement_depth", "confidence", "latency_ms", "verified"}
	if err := f.SetSheetRow(memorySheet, "A1", &memoryHeader); err != nil {
		return nil, fmt.Errorf("write memory header: %w", err)
	}

	stageRow := 2
	for i, trace := range traces {
		var total time.Duration
		for _, stage := range trace.Stages {
			total += stage.Duration
		}
		row := []any{
			trace.RunID,
			trace.Query,
			trace.StartedAt.UTC().Format(time.RFC3339),
			string(trace.FinalStage),
			trace.Params.Alpha,
			trace.Params.TopK,
			trace.Params.RefinementDepth,
			trace.Params.Version,
			len(trace.Stages),
			total.Milliseconds(),
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(runsSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write run row %s: %w", trace.RunID, err)
		}

		for _, stage := range trace.Stages {
			row := []any{
				trace.RunID,
				string(stage.Stage),
				stage.Duration.Milliseconds(),
				stage.Candidates,
				stage.Note,
				stage.Err,
			}
			cell := fmt.Sprintf("A%d", stageRow)
			if err := f.SetSheetRow(stagesSheet, cell, &row); err != nil {
				return nil, fmt.Errorf("write stage row for %s: %w", trace.RunID, err)
			}
			stageRow++
		}
	}

	for i, record := range records {
		row := []any{
			record.ID,
			record.RecordedAt.UTC().Format(time.RFC3339),
			record.Params.Version,
			record.Params.Alpha,
			record.Params.TopK,
			record.Params.RefinementDepth,
			record.Confidence,
			record.Latency.Milliseconds(),
			record.Verified,
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(memorySheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write memory row %s: %w", record.ID, err)
		}
	}

	f.SetActiveSheet(0)
	return f, nil
}

// Save writes the workbook for the given traces and records to path.
func (e *Exporter) Save(traces []domain.RunTrace, records []domain.MemoryRecord, path string) error {
	f, err := e.Build(traces, records)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}
