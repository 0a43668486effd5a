package ports

import (
	"context"

	"github.com/kirillkom/policy-analyst/internal/core/domain"
)

// ChunkStore persists immutable chunks and reads them back by document.
type ChunkStore interface {
	SaveChunks(ctx context.Context, chunks []domain.Chunk) error
	GetChunk(ctx context.Context, id string) (*domain.Chunk, error)
	ListByDocument(ctx context.Context, documentID string) ([]domain.Chunk, error)
	MarkStatus(ctx context.Context, documentID string, status domain.ChunkStatus, errMessage string) error
}

// SparseIndex scores chunks lexically against a query.
type SparseIndex interface {
	SearchSparse(ctx context.Context, queryText string, limit int) ([]domain.ScoredChunk, error)
}

// DenseIndex scores chunks by embedding similarity. Vector dimensionality
// is fixed per index instance.
type DenseIndex interface {
	SearchDense(ctx context.Context, queryVector []float32, limit int) ([]domain.ScoredChunk, error)
}

// ChunkIndex is the write side shared by both index families.
type ChunkIndex interface {
	SparseIndex
	DenseIndex
	IndexChunks(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error
}

// Embedder builds vectors for chunk and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// QueryPlanner decomposes a raw query into sub-queries. External
// collaborator behavior; the orchestrator only sequences it.
type QueryPlanner interface {
	Plan(ctx context.Context, query domain.Query) (domain.QueryPlan, error)
}

// AnswerSynthesizer produces a cited draft answer and optionally revises it
// through a pro/con debate pass.
type AnswerSynthesizer interface {
	Synthesize(ctx context.Context, question string, evidence []domain.RetrievalResult) (domain.DraftAnswer, error)
	Debate(ctx context.Context, question string, draft domain.DraftAnswer, evidence []domain.RetrievalResult) (domain.DraftAnswer, error)
}

// EntailmentClassifier labels whether cited evidence supports a claim.
type EntailmentClassifier interface {
	Classify(ctx context.Context, claim string, evidence string) (domain.EntailmentLabel, error)
}

// AlignmentScorer measures claim/evidence similarity independently of the
// entailment classifier.
type AlignmentScorer interface {
	Align(ctx context.Context, claim string, evidence string) (float64, error)
}

// MemoryJournal is the persisted, append-only backing for memory records
// and the active parameter set. Append must be all-or-nothing.
type MemoryJournal interface {
	Append(ctx context.Context, record domain.MemoryRecord) error
	Load(ctx context.Context, limit int) ([]domain.MemoryRecord, error)
}

// EvidenceGraph exposes chunk adjacency for the graph refinement strategy.
type EvidenceGraph interface {
	UpsertChunks(ctx context.Context, chunks []domain.Chunk) error
	Neighbors(ctx context.Context, chunkIDs []string, depth int) (map[string][]string, error)
}

// MessageQueue publishes/consumes ingestion events between api and worker.
type MessageQueue interface {
	PublishDocumentIngested(ctx context.Context, documentID string) error
	SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// TraceStore persists run traces for the diagnostics surface.
type TraceStore interface {
	SaveTrace(ctx context.Context, trace domain.RunTrace) error
	GetTrace(ctx context.Context, runID string) (*domain.RunTrace, error)
}
