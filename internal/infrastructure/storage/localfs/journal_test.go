package localfs

import (
	"context"
	"testing"
	"time"

	"github.com/kirillkom/policy-analyst/internal/core/domain"
)

func testRecord(id string, recordedAt time.Time) domain.MemoryRecord {
	return domain.MemoryRecord{
		ID:         id,
		RecordedAt: recordedAt,
		Params:     domain.RunParameters{Version: 1, Alpha: 0.5, TopK: 5, RefinementDepth: 1},
		Confidence: 0.8,
		Latency:    900 * time.Millisecond,
		Verified:   true,
	}
}

func TestJournalAppendAndLoadNewestFirst(t *testing.T) {
	journal, err := NewJournal(t.TempDir())
	if err != nil {
		t.Fatalf("NewJournal() error = %v", err)
	}
	ctx := context.Background()

	base := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"rec-1", "rec-2", "rec-3"} {
		if err := journal.Append(ctx, testRecord(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Append(%s) error = %v", id, err)
		}
	}

	records, err := journal.Load(ctx, 2)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].ID != "rec-3" || records[1].ID != "rec-2" {
		t.Fatalf("got order [%s %s], want newest first", records[0].ID, records[1].ID)
	}
	if records[0].Latency != 900*time.Millisecond {
		t.Fatalf("latency %v did not survive the round trip", records[0].Latency)
	}
}

func TestJournalSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewJournal(dir)
	if err != nil {
		t.Fatalf("NewJournal() error = %v", err)
	}
	if err := first.Append(ctx, testRecord("rec-1", time.Now().UTC())); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	second, err := NewJournal(dir)
	if err != nil {
		t.Fatalf("NewJournal() error = %v", err)
	}
	records, err := second.Load(ctx, 10)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(records) != 1 || records[0].ID != "rec-1" {
		t.Fatalf("got %+v, want the record written before reopen", records)
	}
}

func TestJournalLoadMissingFileAndZeroLimit(t *testing.T) {
	journal, err := NewJournal(t.TempDir())
	if err != nil {
		t.Fatalf("NewJournal() error = %v", err)
	}
	ctx := context.Background()

	records, err := journal.Load(ctx, 5)
	if err != nil || records != nil {
		t.Fatalf("got %v/%v for empty journal, want nil/nil", records, err)
	}
	records, err = journal.Load(ctx, 0)
	if err != nil || records != nil {
		t.Fatalf("got %v/%v for zero limit, want nil/nil", records, err)
	}
}
