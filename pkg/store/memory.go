package store

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/finside/bankrag/internal/models"
	"github.com/finside/bankrag/internal/types"
)

// MemoryStore is a brute-force in-memory vector store. It backs tests
// and databaseless local runs, and mirrors the pgvector client's
// semantics: last-writer-wins upsert, cosine scores, score-descending
// order with id tie-break, threshold filtering.
//
// Safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	chunks    map[string]models.DocumentChunk
}

var _ types.VectorStore = (*MemoryStore)(nil)

func NewMemory(dimension int) (*MemoryStore, error) {
	if dimension <= 0 {
		return nil, &models.ValidationError{Field: "dimension", Message: "must be positive"}
	}
	return &MemoryStore{
		dimension: dimension,
		chunks:    make(map[string]models.DocumentChunk),
	}, nil
}

func (m *MemoryStore) Upsert(_ context.Context, chunks []models.DocumentChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, chunk := range chunks {
		if len(chunk.Embedding) != m.dimension {
			return &models.DimensionMismatchError{Want: m.dimension, Got: len(chunk.Embedding)}
		}
		m.chunks[chunk.ID] = chunk
	}
	return nil
}

func (m *MemoryStore) Search(_ context.Context, vector []float32, opts types.SearchOptions) ([]models.RetrievalResult, error) {
	if len(vector) != m.dimension {
		return nil, &models.DimensionMismatchError{Want: m.dimension, Got: len(vector)}
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []models.RetrievalResult
	for _, chunk := range m.chunks {
		if !matchesFilter(chunk.Metadata, opts.Filter) {
			continue
		}
		score := cosineSimilarity(vector, chunk.Embedding)
		if score < opts.ScoreThreshold {
			continue
		}
		results = append(results, models.RetrievalResult{Chunk: chunk, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})

	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results, nil
}

func (m *MemoryStore) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		delete(m.chunks, id)
	}
	return nil
}

func (m *MemoryStore) DeleteBySource(_ context.Context, sourceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for id, chunk := range m.chunks {
		if chunk.SourceID == sourceID {
			delete(m.chunks, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks), nil
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

func (m *MemoryStore) Close() {}

func matchesFilter(metadata, filter map[string]string) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
