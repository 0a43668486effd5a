package xlsx

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/policy-analyst/internal/core/domain"
)

type fakeTraceLister struct {
	traces []domain.RunTrace
	err    error
	limit  int
}

func (f *fakeTraceLister) ListTraces(_ context.Context, limit int) ([]domain.RunTrace, error) {
	f.limit = limit
	return f.traces, f.err
}

type fakeRecordLister struct {
	records []domain.MemoryRecord
	err     error
}

func (f *fakeRecordLister) Load(context.Context, int) ([]domain.MemoryRecord, error) {
	return f.records, f.err
}

func TestRenderProducesWorkbookBytes(t *testing.T) {
	traces := &fakeTraceLister{traces: sampleTraces()}
	journal := &fakeRecordLister{records: sampleRecords()}

	payload, err := NewReportService(traces, journal).Render(context.Background(), 50)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if traces.limit != 50 {
		t.Fatalf("trace limit %d, want 50", traces.limit)
	}
	// xlsx is a zip container, so the payload starts with the PK magic.
	if !bytes.HasPrefix(payload, []byte("PK")) {
		t.Fatalf("payload does not look like a workbook")
	}
}

func TestRenderWithoutJournalSkipsMemorySheetRows(t *testing.T) {
	traces := &fakeTraceLister{traces: sampleTraces()}

	payload, err := NewReportService(traces, nil).Render(context.Background(), 10)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if len(payload) == 0 {
		t.Fatalf("expected workbook bytes")
	}
}

func TestRenderPropagatesListerErrors(t *testing.T) {
	traces := &fakeTraceLister{err: errors.New("db down")}

	if _, err := NewReportService(traces, nil).Render(context.Background(), 10); err == nil {
		t.Fatalf("expected error")
	}
}
