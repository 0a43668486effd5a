package ports

import (
	"context"

	"github.com/kirillkom/policy-analyst/internal/core/domain"
)

// PolicyQueryService is the inbound contract for answering a policy
// question through the full adaptive pipeline.
type PolicyQueryService interface {
	Ask(ctx context.Context, query domain.Query) (*domain.PipelineResult, *domain.RunTrace, error)
}

// ChunkIngestor is the inbound contract for accepting parsed page records
// from the upstream document-parsing collaborator.
type ChunkIngestor interface {
	Ingest(ctx context.Context, records []domain.IngestRecord) ([]domain.Chunk, error)
}

// ChunkIndexer is the inbound contract for asynchronous index building.
type ChunkIndexer interface {
	IndexByDocument(ctx context.Context, documentID string) error
}

// TraceReader exposes stored run traces for offline analysis.
type TraceReader interface {
	GetTrace(ctx context.Context, runID string) (*domain.RunTrace, error)
}
