package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/kirillkom/policy-analyst/internal/core/domain"
	"github.com/kirillkom/policy-analyst/internal/core/ports"
	"github.com/kirillkom/policy-analyst/internal/observability/logging"
)

// RefinementStrategy re-orders or prunes a fused candidate set with a
// higher-cost signal. Implementations must be deterministic and must never
// emit a chunk absent from the input set.
type RefinementStrategy interface {
	Name() string
	Refine(ctx context.Context, question string, candidates []domain.RetrievalResult, depth int) ([]domain.RetrievalResult, error)
}

// Refiner wraps the configured strategy with degrade-don't-abort
// semantics: a failing strategy yields the unrefined ranking plus a
// warning, never a pipeline abort.
type Refiner struct {
	strategy RefinementStrategy
	logger   *slog.Logger
}

func NewRefiner(strategy RefinementStrategy, logger *slog.Logger) *Refiner {
	return &Refiner{strategy: strategy, logger: logger}
}

// Refine returns the refined set. A strategy failure yields the unrefined
// fused ranking plus an ErrRefinementDegraded so callers can record the
// warning without treating it as a pipeline failure.
func (r *Refiner) Refine(ctx context.Context, question string, candidates []domain.RetrievalResult, depth int) ([]domain.RetrievalResult, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	refined, err := r.strategy.Refine(ctx, question, candidates, depth)
	if err != nil {
		logging.RunLogger(ctx, r.logger).Warn("refinement_degraded",
			"strategy", r.strategy.Name(),
			"candidates", len(candidates),
			"error", err,
		)
		return candidates, domain.WrapError(domain.ErrRefinementDegraded, "refine", err)
	}
	return clampToInputSet(refined, candidates), nil
}

// clampToInputSet enforces the subset invariant even against a misbehaving
// strategy: anything not present in the fused input is dropped.
func clampToInputSet(refined, input []domain.RetrievalResult) []domain.RetrievalResult {
	allowed := make(map[string]struct{}, len(input))
	for _, c := range input {
		allowed[c.Chunk.ID] = struct{}{}
	}
	out := make([]domain.RetrievalResult, 0, len(refined))
	seen := make(map[string]struct{}, len(refined))
	for _, c := range refined {
		if _, ok := allowed[c.Chunk.ID]; !ok {
			continue
		}
		if _, dup := seen[c.Chunk.ID]; dup {
			continue
		}
		seen[c.Chunk.ID] = struct{}{}
		out = append(out, c)
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// NewRefinementStrategy selects the configured strategy. Unknown names are
// a configuration error.
func NewRefinementStrategy(name string, graph ports.EvidenceGraph, retriever *FusionRetriever) (RefinementStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "rerank", "":
		return &RerankStrategy{}, nil
	case "graph":
		if graph == nil {
			return nil, domain.WrapError(domain.ErrConfiguration, "refinement", fmt.Errorf("graph strategy requires an evidence graph"))
		}
		return &GraphStrategy{graph: graph}, nil
	case "iterative":
		if retriever == nil {
			return nil, domain.WrapError(domain.ErrConfiguration, "refinement", fmt.Errorf("iterative strategy requires a retriever"))
		}
		return &IterativeStrategy{retriever: retriever}, nil
	default:
		return nil, domain.WrapError(domain.ErrConfiguration, "refinement", fmt.Errorf("unknown strategy %q", name))
	}
}

// RerankStrategy is a cheap cross-encoder stand-in: it blends the fused
// score with query/chunk token overlap and a document-id hit.
type RerankStrategy struct{}

func (s *RerankStrategy) Name() string { return "rerank" }

func (s *RerankStrategy) Refine(_ context.Context, question string, candidates []domain.RetrievalResult, _ int) ([]domain.RetrievalResult, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	queryTokens := toTokenSet(question)

	minScore := candidates[0].FusedScore
	maxScore := minScore
	for _, c := range candidates[1:] {
		if c.FusedScore < minScore {
			minScore = c.FusedScore
		}
		if c.FusedScore > maxScore {
			maxScore = c.FusedScore
		}
	}
	rangeScore := maxScore - minScore
	normalize := func(v float64) float64 {
		if rangeScore <= 0 {
			return 0.5
		}
		return (v - minScore) / rangeScore
	}

	out := make([]domain.RetrievalResult, len(candidates))
	copy(out, candidates)
	for i := range out {
		overlap := tokenOverlap(queryTokens, toTokenSet(out[i].Chunk.Text))
		docHit := documentTokenHit(queryTokens, out[i].Chunk.DocumentID)
		out[i].FusedScore = 0.60*normalize(candidates[i].FusedScore) + 0.30*overlap + 0.10*docHit
	}

	sortRefined(out)
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

// GraphStrategy re-scores candidates by how densely connected they are to
// other candidates in the evidence graph.
type GraphStrategy struct {
	graph ports.EvidenceGraph
}

func (s *GraphStrategy) Name() string { return "graph" }

func (s *GraphStrategy) Refine(ctx context.Context, _ string, candidates []domain.RetrievalResult, depth int) ([]domain.RetrievalResult, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if depth <= 0 {
		depth = 1
	}

	ids := make([]string, 0, len(candidates))
	inSet := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.Chunk.ID)
		inSet[c.Chunk.ID] = struct{}{}
	}

	neighbors, err := s.graph.Neighbors(ctx, ids, depth)
	if err != nil {
		return nil, fmt.Errorf("graph neighbors: %w", err)
	}

	out := make([]domain.RetrievalResult, len(candidates))
	copy(out, candidates)
	for i := range out {
		// Neighbors outside the candidate set carry no weight: the
		// strategy may only re-order what fusion already produced.
		hits := 0
		for _, n := range neighbors[out[i].Chunk.ID] {
			if _, ok := inSet[n]; ok {
				hits++
			}
		}
		boost := 0.0
		if len(candidates) > 1 {
			boost = float64(hits) / float64(len(candidates)-1)
		}
		out[i].FusedScore = 0.70*candidates[i].FusedScore + 0.30*boost
	}

	sortRefined(out)
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

// maxIterativeRounds caps re-retrieval regardless of configured depth so a
// degenerate reformulation loop cannot run unboundedly.
const maxIterativeRounds = 3

// IterativeStrategy re-queries the fusion retriever with reformulated
// queries and folds the new rankings back into the original candidate set.
// It never admits chunks outside that set; on hitting the round cap it
// returns its best-so-far ordering.
type IterativeStrategy struct {
	retriever *FusionRetriever
}

func (s *IterativeStrategy) Name() string { return "iterative" }

func (s *IterativeStrategy) Refine(ctx context.Context, question string, candidates []domain.RetrievalResult, depth int) ([]domain.RetrievalResult, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	rounds := depth
	if rounds <= 0 || rounds > maxIterativeRounds {
		rounds = maxIterativeRounds
	}

	out := make([]domain.RetrievalResult, len(candidates))
	copy(out, candidates)
	inSet := make(map[string]int, len(candidates))
	for i, c := range candidates {
		inSet[c.Chunk.ID] = i
	}

	params := domain.RunParameters{Alpha: 0.5, TopK: len(candidates)}
	seenQueries := map[string]struct{}{normalizeQuery(question): {}}
	currentQuery := question

	for round := 0; round < rounds; round++ {
		nextQuery := reformulateQuery(question, out)
		norm := normalizeQuery(nextQuery)
		if _, repeated := seenQueries[norm]; repeated {
			break
		}
		seenQueries[norm] = struct{}{}
		currentQuery = nextQuery

		ranking, err := s.retriever.Retrieve(ctx, currentQuery, params)
		if err != nil {
			return nil, fmt.Errorf("iterative re-retrieval: %w", err)
		}

		for _, hit := range ranking {
			idx, ok := inSet[hit.Chunk.ID]
			if !ok {
				continue
			}
			out[idx].FusedScore = 0.5*out[idx].FusedScore + 0.5*hit.FusedScore
		}
		sortRefined(out)
		for i := range out {
			inSet[out[i].Chunk.ID] = i
		}
	}

	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

// reformulateQuery extends the question with the most frequent unseen
// tokens of the current top candidate. Deterministic by construction.
func reformulateQuery(question string, ranked []domain.RetrievalResult) string {
	if len(ranked) == 0 {
		return question
	}
	queryTokens := toTokenSet(question)

	freq := make(map[string]int)
	for _, token := range splitAlphaNumLower(ranked[0].Chunk.Text) {
		if _, seen := queryTokens[token]; seen {
			continue
		}
		if len(token) < 4 {
			continue
		}
		freq[token]++
	}

	tokens := make([]string, 0, len(freq))
	for token := range freq {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if freq[tokens[i]] != freq[tokens[j]] {
			return freq[tokens[i]] > freq[tokens[j]]
		}
		return tokens[i] < tokens[j]
	})
	if len(tokens) > 3 {
		tokens = tokens[:3]
	}
	if len(tokens) == 0 {
		return question
	}
	return question + " " + strings.Join(tokens, " ")
}

func normalizeQuery(q string) string {
	return strings.Join(splitAlphaNumLower(q), " ")
}

func sortRefined(out []domain.RetrievalResult) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		if out[i].DenseScore != out[j].DenseScore {
			return out[i].DenseScore > out[j].DenseScore
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})
}

func tokenOverlap(query, chunk map[string]struct{}) float64 {
	if len(query) == 0 || len(chunk) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := chunk[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func documentTokenHit(query map[string]struct{}, documentID string) float64 {
	if len(query) == 0 || documentID == "" {
		return 0
	}
	documentID = strings.ToLower(documentID)
	for token := range query {
		if token == "" {
			continue
		}
		if strings.Contains(documentID, token) {
			return 1
		}
	}
	return 0
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
