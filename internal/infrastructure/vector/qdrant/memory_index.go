package qdrant

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/kirillkom/policy-analyst/internal/core/domain"
)

type memoryEntry struct {
	chunk  domain.Chunk
	dense  []float32
	sparse sparseVector
}

// MemoryIndex is a process-local stand-in for the Qdrant collection. Used
// by the memory index backend and by tests; scoring mirrors the server:
// cosine for dense, dot product for sparse.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]memoryEntry)}
}

func (m *MemoryIndex) IndexChunks(_ context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks/vectors mismatch: %d vs %d", len(chunks), len(vectors))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, chunk := range chunks {
		m.entries[chunk.ID] = memoryEntry{
			chunk:  chunk,
			dense:  vectors[i],
			sparse: encodeSparseChunk(chunk.Text),
		}
	}
	return nil
}

func (m *MemoryIndex) SearchDense(_ context.Context, queryVector []float32, limit int) ([]domain.ScoredChunk, error) {
	if len(queryVector) == 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.ScoredChunk, 0, len(m.entries))
	for _, entry := range m.entries {
		score := cosine(queryVector, entry.dense)
		if score <= 0 {
			continue
		}
		out = append(out, domain.ScoredChunk{Chunk: entry.chunk, Score: score})
	}
	return trimScored(out, limit), nil
}

func (m *MemoryIndex) SearchSparse(_ context.Context, queryText string, limit int) ([]domain.ScoredChunk, error) {
	query := encodeSparseQuery(queryText)
	if len(query.Indices) == 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.ScoredChunk, 0, len(m.entries))
	for _, entry := range m.entries {
		score := sparseDot(query, entry.sparse)
		if score <= 0 {
			continue
		}
		out = append(out, domain.ScoredChunk{Chunk: entry.chunk, Score: score})
	}
	return trimScored(out, limit), nil
}

func trimScored(out []domain.ScoredChunk, limit int) []domain.ScoredChunk {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sparseDot(a, b sparseVector) float64 {
	if len(a.Indices) == 0 || len(b.Indices) == 0 {
		return 0
	}
	bVals := make(map[uint32]float32, len(b.Indices))
	for i, idx := range b.Indices {
		bVals[idx] = b.Values[i]
	}
	var sum float64
	for i, idx := range a.Indices {
		if v, ok := bVals[idx]; ok {
			sum += float64(a.Values[i]) * float64(v)
		}
	}
	return sum
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
