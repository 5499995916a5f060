package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finside/bankrag/internal/models"
	"github.com/finside/bankrag/internal/types"
	"github.com/finside/bankrag/pkg/store"
)

func chunk(id, sourceID string, embedding []float32, metadata map[string]string) models.DocumentChunk {
	return models.DocumentChunk{
		ID:        id,
		SourceID:  sourceID,
		Text:      "text for " + id,
		Embedding: embedding,
		Metadata:  metadata,
	}
}

func TestMemoryStore_UpsertAndSearch(t *testing.T) {
	s, err := store.NewMemory(3)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, []models.DocumentChunk{
		chunk("a", "doc1", []float32{1, 0, 0}, nil),
		chunk("b", "doc1", []float32{0.9, 0.1, 0}, nil),
		chunk("c", "doc2", []float32{0, 1, 0}, nil),
	}))

	results, err := s.Search(ctx, []float32{1, 0, 0}, types.SearchOptions{TopK: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Score-descending with ranks starting at 1.
	assert.Equal(t, "a", results[0].Chunk.ID)
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, "b", results[1].Chunk.ID)
	assert.Equal(t, 2, results[1].Rank)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestMemoryStore_ScoreThreshold(t *testing.T) {
	s, err := store.NewMemory(3)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, []models.DocumentChunk{
		chunk("near", "doc1", []float32{1, 0, 0}, nil),
		chunk("far", "doc1", []float32{0, 0, 1}, nil),
	}))

	// The orthogonal chunk scores 0 and stays out even though TopK
	// allows it.
	results, err := s.Search(ctx, []float32{1, 0, 0}, types.SearchOptions{TopK: 10, ScoreThreshold: 0.5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "near", results[0].Chunk.ID)
}

func TestMemoryStore_TieBreakByID(t *testing.T) {
	s, err := store.NewMemory(3)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, []models.DocumentChunk{
		chunk("zebra", "doc1", []float32{1, 0, 0}, nil),
		chunk("alpha", "doc1", []float32{1, 0, 0}, nil),
	}))

	results, err := s.Search(ctx, []float32{1, 0, 0}, types.SearchOptions{TopK: 5})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "alpha", results[0].Chunk.ID)
	assert.Equal(t, "zebra", results[1].Chunk.ID)
}

func TestMemoryStore_UpsertIdempotent(t *testing.T) {
	s, err := store.NewMemory(3)
	require.NoError(t, err)

	ctx := context.Background()
	first := chunk("a", "doc1", []float32{1, 0, 0}, nil)
	require.NoError(t, s.Upsert(ctx, []models.DocumentChunk{first}))
	require.NoError(t, s.Upsert(ctx, []models.DocumentChunk{first}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Last writer wins on conflicting ids.
	updated := first
	updated.Text = "updated text"
	require.NoError(t, s.Upsert(ctx, []models.DocumentChunk{updated}))

	results, err := s.Search(ctx, []float32{1, 0, 0}, types.SearchOptions{TopK: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "updated text", results[0].Chunk.Text)
}

func TestMemoryStore_DimensionMismatch(t *testing.T) {
	s, err := store.NewMemory(3)
	require.NoError(t, err)

	ctx := context.Background()
	err = s.Upsert(ctx, []models.DocumentChunk{chunk("a", "doc1", []float32{1, 0}, nil)})
	var dimErr *models.DimensionMismatchError
	require.ErrorAs(t, err, &dimErr)

	_, err = s.Search(ctx, []float32{1, 0}, types.SearchOptions{TopK: 1})
	require.ErrorAs(t, err, &dimErr)
}

func TestMemoryStore_MetadataFilter(t *testing.T) {
	s, err := store.NewMemory(3)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, []models.DocumentChunk{
		chunk("a", "doc1", []float32{1, 0, 0}, map[string]string{"category": "fees"}),
		chunk("b", "doc2", []float32{1, 0, 0}, map[string]string{"category": "cards"}),
	}))

	results, err := s.Search(ctx, []float32{1, 0, 0}, types.SearchOptions{
		TopK:   5,
		Filter: map[string]string{"category": "fees"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Chunk.ID)
}

func TestMemoryStore_DeleteBySource(t *testing.T) {
	s, err := store.NewMemory(3)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, []models.DocumentChunk{
		chunk("a", "doc1", []float32{1, 0, 0}, nil),
		chunk("b", "doc1", []float32{0, 1, 0}, nil),
		chunk("c", "doc2", []float32{0, 0, 1}, nil),
	}))

	deleted, err := s.DeleteBySource(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	deleted, err = s.DeleteBySource(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryStore_Delete(t *testing.T) {
	s, err := store.NewMemory(3)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, []models.DocumentChunk{
		chunk("a", "doc1", []float32{1, 0, 0}, nil),
	}))

	// Absent ids are a no-op.
	require.NoError(t, s.Delete(ctx, []string{"a", "missing"}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
