package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/kirillkom/policy-analyst/internal/core/domain"
	"github.com/kirillkom/policy-analyst/internal/core/ports"
)

// candidateFactor controls how many raw candidates each index contributes
// before fusion trims to top-k.
const candidateFactor = 4

// FusionRetriever merges sparse and dense relevance into one ranked list.
// Read-only over both indices; safe for concurrent use.
type FusionRetriever struct {
	sparse   ports.SparseIndex
	dense    ports.DenseIndex
	embedder ports.Embedder
}

func NewFusionRetriever(sparse ports.SparseIndex, dense ports.DenseIndex, embedder ports.Embedder) *FusionRetriever {
	return &FusionRetriever{
		sparse:   sparse,
		dense:    dense,
		embedder: embedder,
	}
}

type fusedCandidate struct {
	chunk     domain.Chunk
	rawSparse float64
	rawDense  float64
}

// Retrieve returns the top-k chunks ranked by
// alpha*dense + (1-alpha)*sparse over min-max normalized scores.
// An empty corpus yields an empty result, not an error.
func (r *FusionRetriever) Retrieve(ctx context.Context, queryText string, params domain.RunParameters) ([]domain.RetrievalResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	limit := params.TopK * candidateFactor

	sparseHits, err := r.sparse.SearchSparse(ctx, queryText, limit)
	if err != nil {
		return nil, fmt.Errorf("sparse search: %w", err)
	}

	queryVector, err := r.embedder.EmbedQuery(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	denseHits, err := r.dense.SearchDense(ctx, queryVector, limit)
	if err != nil {
		return nil, fmt.Errorf("dense search: %w", err)
	}

	acc := make(map[string]*fusedCandidate, len(sparseHits)+len(denseHits))
	for _, hit := range sparseHits {
		acc[hit.Chunk.ID] = &fusedCandidate{chunk: hit.Chunk, rawSparse: hit.Score}
	}
	for _, hit := range denseHits {
		if c, ok := acc[hit.Chunk.ID]; ok {
			c.rawDense = hit.Score
			continue
		}
		acc[hit.Chunk.ID] = &fusedCandidate{chunk: hit.Chunk, rawDense: hit.Score}
	}
	if len(acc) == 0 {
		return nil, nil
	}

	candidates := make([]*fusedCandidate, 0, len(acc))
	for _, c := range acc {
		candidates = append(candidates, c)
	}

	// Raw scores come from incomparable scoring families; normalize each
	// family to [0,1] within the candidate set so alpha keeps a stable
	// meaning across queries and corpora.
	normSparse := minMaxNormalize(candidates, func(c *fusedCandidate) float64 { return c.rawSparse })
	normDense := minMaxNormalize(candidates, func(c *fusedCandidate) float64 { return c.rawDense })

	out := make([]domain.RetrievalResult, 0, len(candidates))
	for i, c := range candidates {
		fused := params.Alpha*normDense[i] + (1-params.Alpha)*normSparse[i]
		out = append(out, domain.RetrievalResult{
			Chunk:       c.chunk,
			SparseScore: normSparse[i],
			DenseScore:  normDense[i],
			FusedScore:  fused,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		if out[i].DenseScore != out[j].DenseScore {
			return out[i].DenseScore > out[j].DenseScore
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})

	if len(out) > params.TopK {
		out = out[:params.TopK]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

// minMaxNormalize maps one score family onto [0,1] within the candidate
// set. When all raw scores are equal every candidate gets 0.5 so that the
// family contributes a constant rather than a skewed signal.
func minMaxNormalize(candidates []*fusedCandidate, score func(*fusedCandidate) float64) []float64 {
	min := score(candidates[0])
	max := min
	for _, c := range candidates[1:] {
		v := score(c)
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	out := make([]float64, len(candidates))
	if max == min {
		for i := range out {
			out[i] = 0.5
		}
		return out
	}
	for i, c := range candidates {
		out[i] = (score(c) - min) / (max - min)
	}
	return out
}

// mergeByFusedScore unions per-sub-query rankings, keeping the best fused
// score per chunk, and re-trims to limit with the same tie-break order.
func mergeByFusedScore(rankings [][]domain.RetrievalResult, limit int) []domain.RetrievalResult {
	best := make(map[string]domain.RetrievalResult)
	for _, ranking := range rankings {
		for _, result := range ranking {
			cur, ok := best[result.Chunk.ID]
			if !ok || result.FusedScore > cur.FusedScore {
				best[result.Chunk.ID] = result
			}
		}
	}

	out := make([]domain.RetrievalResult, 0, len(best))
	for _, result := range best {
		out = append(out, result)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		if out[i].DenseScore != out[j].DenseScore {
			return out[i].DenseScore > out[j].DenseScore
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
