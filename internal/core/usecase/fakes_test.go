package usecase

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/policy-analyst/internal/core/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testChunk(id, documentID string, page int, text string) domain.Chunk {
	return domain.Chunk{
		ID:         id,
		DocumentID: documentID,
		Pages:      domain.PageRange{From: page, To: page},
		Text:       text,
		TokenCount: len(strings.Fields(text)),
		CreatedAt:  time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
	}
}

type fakeSparse struct {
	hits []domain.ScoredChunk
	err  error
}

func (f *fakeSparse) SearchSparse(_ context.Context, _ string, _ int) ([]domain.ScoredChunk, error) {
	return f.hits, f.err
}

type fakeDense struct {
	hits []domain.ScoredChunk
	err  error
}

func (f *fakeDense) SearchDense(_ context.Context, _ []float32, _ int) ([]domain.ScoredChunk, error) {
	return f.hits, f.err
}

type fakeEmbedder struct {
	err error
	// short counts vectors to return fewer than requested
	short bool
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	n := len(texts)
	if f.short && n > 0 {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakePlanner struct {
	plan  domain.QueryPlan
	err   error
	calls int
}

func (f *fakePlanner) Plan(_ context.Context, query domain.Query) (domain.QueryPlan, error) {
	f.calls++
	if f.err != nil {
		return domain.QueryPlan{}, f.err
	}
	if f.plan.Original == "" {
		f.plan.Original = query.Text
	}
	return f.plan, nil
}

type fakeSynthesizer struct {
	draft      domain.DraftAnswer
	err        error
	debated    *domain.DraftAnswer
	debateErr  error
	synthCalls int
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, _ string, _ []domain.RetrievalResult) (domain.DraftAnswer, error) {
	f.synthCalls++
	if f.err != nil {
		return domain.DraftAnswer{}, f.err
	}
	return f.draft, nil
}

func (f *fakeSynthesizer) Debate(_ context.Context, _ string, draft domain.DraftAnswer, _ []domain.RetrievalResult) (domain.DraftAnswer, error) {
	if f.debateErr != nil {
		return domain.DraftAnswer{}, f.debateErr
	}
	if f.debated != nil {
		return *f.debated, nil
	}
	return draft, nil
}

type fakeEntailment struct {
	label    domain.EntailmentLabel
	byClaim  map[string]domain.EntailmentLabel
	err      error
	failures int
	calls    int
}

func (f *fakeEntailment) Classify(_ context.Context, claim string, _ string) (domain.EntailmentLabel, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return "", domain.WrapError(domain.ErrTemporary, "classify", io.ErrUnexpectedEOF)
	}
	if f.err != nil {
		return "", f.err
	}
	if label, ok := f.byClaim[claim]; ok {
		return label, nil
	}
	if f.label == "" {
		return domain.EntailmentSupported, nil
	}
	return f.label, nil
}

type fakeAligner struct {
	score   float64
	byClaim map[string]float64
	err     error
}

func (f *fakeAligner) Align(_ context.Context, claim string, _ string) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	if score, ok := f.byClaim[claim]; ok {
		return score, nil
	}
	return f.score, nil
}

// fakeJournal keeps records in append order and serves Load latest-first.
type fakeJournal struct {
	records   []domain.MemoryRecord
	appendErr error
	loadErr   error
}

func (f *fakeJournal) Append(_ context.Context, record domain.MemoryRecord) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.records = append(f.records, record)
	return nil
}

func (f *fakeJournal) Load(_ context.Context, limit int) ([]domain.MemoryRecord, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	out := make([]domain.MemoryRecord, 0, limit)
	for i := len(f.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.records[i])
	}
	return out, nil
}

type fakeGraph struct {
	neighbors map[string][]string
	upserted  []domain.Chunk
	err       error
}

func (f *fakeGraph) UpsertChunks(_ context.Context, chunks []domain.Chunk) error {
	if f.err != nil {
		return f.err
	}
	f.upserted = append(f.upserted, chunks...)
	return nil
}

func (f *fakeGraph) Neighbors(_ context.Context, _ []string, _ int) (map[string][]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.neighbors, nil
}

type fakeTraceStore struct {
	saved []domain.RunTrace
	err   error
}

func (f *fakeTraceStore) SaveTrace(_ context.Context, trace domain.RunTrace) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, trace)
	return nil
}

func (f *fakeTraceStore) GetTrace(_ context.Context, runID string) (*domain.RunTrace, error) {
	for i := range f.saved {
		if f.saved[i].RunID == runID {
			return &f.saved[i], nil
		}
	}
	return nil, domain.ErrChunkNotFound
}

type fakeQueue struct {
	published []string
	err       error
}

func (f *fakeQueue) PublishDocumentIngested(_ context.Context, documentID string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, documentID)
	return nil
}

func (f *fakeQueue) SubscribeDocumentIngested(_ context.Context, _ func(context.Context, string) error) error {
	return nil
}

type fakeChunkStore struct {
	saved    []domain.Chunk
	statuses map[string]domain.ChunkStatus
	reasons  map[string]string
	saveErr  error
	listErr  error
	markErr  error
}

func newFakeChunkStore() *fakeChunkStore {
	return &fakeChunkStore{
		statuses: make(map[string]domain.ChunkStatus),
		reasons:  make(map[string]string),
	}
}

func (f *fakeChunkStore) SaveChunks(_ context.Context, chunks []domain.Chunk) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, chunks...)
	return nil
}

func (f *fakeChunkStore) GetChunk(_ context.Context, id string) (*domain.Chunk, error) {
	for i := range f.saved {
		if f.saved[i].ID == id {
			return &f.saved[i], nil
		}
	}
	return nil, domain.ErrChunkNotFound
}

func (f *fakeChunkStore) ListByDocument(_ context.Context, documentID string) ([]domain.Chunk, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.Chunk, 0)
	for _, chunk := range f.saved {
		if chunk.DocumentID == documentID {
			out = append(out, chunk)
		}
	}
	return out, nil
}

func (f *fakeChunkStore) MarkStatus(_ context.Context, documentID string, status domain.ChunkStatus, errMessage string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.statuses[documentID] = status
	f.reasons[documentID] = errMessage
	return nil
}

type fakeChunkIndex struct {
	fakeSparse
	fakeDense
	indexed  []domain.Chunk
	indexErr error
}

func (f *fakeChunkIndex) IndexChunks(_ context.Context, chunks []domain.Chunk, _ [][]float32) error {
	if f.indexErr != nil {
		return f.indexErr
	}
	f.indexed = append(f.indexed, chunks...)
	return nil
}

// fakeSplitter cuts on a literal marker so tests control piece boundaries.
type fakeSplitter struct{}

func (fakeSplitter) Split(text string) []string {
	parts := strings.Split(text, "||")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
