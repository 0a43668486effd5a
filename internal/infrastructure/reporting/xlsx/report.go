package xlsx

import (
	"context"
	"fmt"

	"github.com/kirillkom/policy-analyst/internal/core/domain"
)

// TraceLister is the slice of the trace store the report needs.
type TraceLister interface {
	ListTraces(ctx context.Context, limit int) ([]domain.RunTrace, error)
}

// RecordLister is the read side of the memory journal.
type RecordLister interface {
	Load(ctx context.Context, limit int) ([]domain.MemoryRecord, error)
}

// ReportService renders the most recent run traces and memory records
// into workbook bytes, ready to serve as an attachment.
type ReportService struct {
	traces   TraceLister
	journal  RecordLister
	exporter *Exporter
}

func NewReportService(traces TraceLister, journal RecordLister) *ReportService {
	return &ReportService{
		traces:   traces,
		journal:  journal,
		exporter: NewExporter(),
	}
}

func (s *ReportService) Render(ctx context.Context, limit int) ([]byte, error) {
	traces, err := s.traces.ListTraces(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}

	var records []domain.MemoryRecord
	if s.journal != nil {
		journalLimit := limit
		if journalLimit <= 0 {
			journalLimit = 100
		}
		records, err = s.journal.Load(ctx, journalLimit)
		if err != nil {
			return nil, fmt.Errorf("load memory records: %w", err)
		}
	}

	f, err := s.exporter.Build(traces, records)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}
