package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkID(t *testing.T) {
	id := ChunkID("docs/fees.md", "Wire transfers cost twenty dollars.")
	assert.Len(t, id, 16)

	// Pure function of source and text.
	assert.Equal(t, id, ChunkID("docs/fees.md", "Wire transfers cost twenty dollars."))

	// Either input changing changes the id.
	assert.NotEqual(t, id, ChunkID("docs/other.md", "Wire transfers cost twenty dollars."))
	assert.NotEqual(t, id, ChunkID("docs/fees.md", "Wire transfers cost thirty dollars."))

	// The separator keeps (source, text) unambiguous.
	assert.NotEqual(t, ChunkID("ab", "c"), ChunkID("a", "bc"))
}

func TestTokenEvent_Terminal(t *testing.T) {
	assert.False(t, TokenEvent{Token: "hi"}.Terminal())
	assert.True(t, TokenEvent{FinishReason: FinishStop}.Terminal())
	assert.True(t, TokenEvent{FinishReason: FinishError}.Terminal())
}

func TestHealth_Healthy(t *testing.T) {
	h := Health{EmbeddingProvider: StatusUp, VectorStore: StatusUp, GenerationProvider: StatusUp}
	assert.True(t, h.Healthy())

	h.VectorStore = StatusDown
	assert.False(t, h.Healthy())
}

func TestContextBlock_Citations(t *testing.T) {
	block := ContextBlock{
		Entries: []ContextEntry{
			{Citation: 1, Result: RetrievalResult{Chunk: DocumentChunk{ID: "c1", SourceID: "doc1"}, Score: 0.9}},
			{Citation: 2, Result: RetrievalResult{Chunk: DocumentChunk{ID: "c2", SourceID: "doc2"}, Score: 0.7}},
		},
	}
	cites := block.Citations()
	assert.Len(t, cites, 2)
	assert.Equal(t, "c1", cites[0].ChunkID)
	assert.Equal(t, 2, cites[1].Index)
	assert.True(t, ContextBlock{}.Empty())
	assert.False(t, block.Empty())
}
