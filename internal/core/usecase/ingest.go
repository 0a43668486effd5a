package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/policy-analyst/internal/core/domain"
	"github.com/kirillkom/policy-analyst/internal/core/ports"
)

// PageSplitter cuts one page of text into index-sized pieces.
type PageSplitter interface {
	Split(text string) []string
}

// IngestService accepts parsed page records, cuts them into immutable
// chunks, persists them, and announces each touched document on the queue
// so the worker can build indices asynchronously.
type IngestService struct {
	store    ports.ChunkStore
	queue    ports.MessageQueue
	splitter PageSplitter
	logger   *slog.Logger
}

func NewIngestService(store ports.ChunkStore, queue ports.MessageQueue, splitter PageSplitter, logger *slog.Logger) *IngestService {
	return &IngestService{
		store:    store,
		queue:    queue,
		splitter: splitter,
		logger:   logger,
	}
}

// Ingest validates and persists page records. Blank pages are skipped;
// a record without a document id or with a non-positive page number is an
// input error. Chunk ids are deterministic so re-ingesting the same pages
// overwrites rather than duplicates.
func (s *IngestService) Ingest(ctx context.Context, records []domain.IngestRecord) ([]domain.Chunk, error) {
	if len(records) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ingest", errors.New("no records"))
	}

	now := time.Now().UTC()
	chunks := make([]domain.Chunk, 0, len(records))
	documents := make(map[string]struct{})

	for _, record := range records {
		if strings.TrimSpace(record.DocumentID) == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "ingest", errors.New("record without document id"))
		}
		if record.Page <= 0 {
			return nil, domain.WrapError(domain.ErrInvalidInput, "ingest", fmt.Errorf("document %s: page %d", record.DocumentID, record.Page))
		}
		if strings.TrimSpace(record.Text) == "" {
			continue
		}

		for i, piece := range s.splitter.Split(record.Text) {
			chunks = append(chunks, domain.Chunk{
				ID:         fmt.Sprintf("%s:p%d:%d", record.DocumentID, record.Page, i),
				DocumentID: record.DocumentID,
				Pages:      domain.PageRange{From: record.Page, To: record.Page},
				Text:       piece,
				TokenCount: len(strings.Fields(piece)),
				CreatedAt:  now,
			})
		}
		documents[record.DocumentID] = struct{}{}
	}
	if len(chunks) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ingest", errors.New("all pages blank"))
	}

	if err := s.store.SaveChunks(ctx, chunks); err != nil {
		return nil, fmt.Errorf("save chunks: %w", err)
	}

	for documentID := range documents {
		if err := s.store.MarkStatus(ctx, documentID, domain.ChunkPending, ""); err != nil {
			return nil, fmt.Errorf("mark document %s pending: %w", documentID, err)
		}
		if err := s.queue.PublishDocumentIngested(ctx, documentID); err != nil {
			return nil, fmt.Errorf("publish ingest event for %s: %w", documentID, err)
		}
		s.logger.Info("document_ingested", "document_id", documentID, "chunks", len(chunks))
	}
	return chunks, nil
}

// IndexerService builds the sparse/dense indices and the evidence graph
// for one document. It runs inside the worker.
type IndexerService struct {
	store    ports.ChunkStore
	index    ports.ChunkIndex
	embedder ports.Embedder
	graph    ports.EvidenceGraph
	logger   *slog.Logger
}

func NewIndexerService(store ports.ChunkStore, index ports.ChunkIndex, embedder ports.Embedder, graph ports.EvidenceGraph, logger *slog.Logger) *IndexerService {
	return &IndexerService{
		store:    store,
		index:    index,
		embedder: embedder,
		graph:    graph,
		logger:   logger,
	}
}

// IndexByDocument embeds and indexes every stored chunk of a document.
// Index failures mark the document failed so operators can re-drive it;
// graph upsert failures only degrade the graph refinement signal and are
// logged, not escalated.
func (s *IndexerService) IndexByDocument(ctx context.Context, documentID string) error {
	chunks, err := s.store.ListByDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("list chunks for %s: %w", documentID, err)
	}
	if len(chunks) == 0 {
		return domain.WrapError(domain.ErrChunkNotFound, "index", fmt.Errorf("document %s has no chunks", documentID))
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		s.markFailed(ctx, documentID, err)
		return fmt.Errorf("embed chunks for %s: %w", documentID, err)
	}
	if len(vectors) != len(chunks) {
		err := fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
		s.markFailed(ctx, documentID, err)
		return err
	}

	if err := s.index.IndexChunks(ctx, chunks, vectors); err != nil {
		s.markFailed(ctx, documentID, err)
		return fmt.Errorf("index chunks for %s: %w", documentID, err)
	}

	if s.graph != nil {
		if err := s.graph.UpsertChunks(ctx, chunks); err != nil {
			s.logger.Warn("graph_upsert_failed", "document_id", documentID, "error", err)
		}
	}

	if err := s.store.MarkStatus(ctx, documentID, domain.ChunkIndexed, ""); err != nil {
		return fmt.Errorf("mark document %s indexed: %w", documentID, err)
	}
	s.logger.Info("document_indexed", "document_id", documentID, "chunks", len(chunks))
	return nil
}

func (s *IndexerService) markFailed(ctx context.Context, documentID string, cause error) {
	if err := s.store.MarkStatus(ctx, documentID, domain.ChunkFailed, cause.Error()); err != nil {
		s.logger.Error("mark_failed_status", "document_id", documentID, "error", err)
	}
}
