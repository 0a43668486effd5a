package domain

// ScoredChunk is a chunk with a single relevance score, as returned by one
// index family before fusion.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// RetrievalResult is one fused candidate. Ephemeral: produced per query and
// kept only inside the run trace.
type RetrievalResult struct {
	Chunk       Chunk   `json:"chunk"`
	SparseScore float64 `json:"sparse_score"`
	DenseScore  float64 `json:"dense_score"`
	FusedScore  float64 `json:"fused_score"`
	Rank        int     `json:"rank"`
}

// Citation ties an answer span to a chunk that was present in the final
// refined evidence set. Fabricated provenance is rejected by the Verifier.
type Citation struct {
	DocumentID string `json:"document_id"`
	Page       int    `json:"page"`
	ChunkID    string `json:"chunk_id"`
}

// Query is the external query input.
type Query struct {
	Text         string `json:"text"`
	LanguageHint string `json:"language_hint,omitempty"`
}

// QueryPlan is the planner collaborator's decomposition of a query.
type QueryPlan struct {
	Original   string   `json:"original"`
	Language   string   `json:"language"`
	SubQueries []string `json:"sub_queries"`
}
