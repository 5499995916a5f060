// Package types declares the provider contracts the RAG pipeline is
// built against. Concrete implementations live in pkg/llm and pkg/store;
// everything above them (the orchestrator, the CLI) depends only on
// these interfaces so providers stay swappable via configuration.
package types

import (
	"context"

	"github.com/finside/bankrag/internal/models"
)

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	// Embed embeds a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts preserving 1:1 input/output order. A
	// failed batch is reported as a single error for the whole batch.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the provider's vector dimension D.
	Dimension() int

	// Healthy reports whether the provider is reachable.
	Healthy(ctx context.Context) error
}

// Generator turns a prompt into text, fully or as a token stream.
type Generator interface {
	// Name identifies the backing provider/model for observability.
	Name() string

	// Generate produces the complete response.
	Generate(ctx context.Context, req models.GenerationRequest) (string, models.FinishReason, error)

	// GenerateStream produces incremental tokens. The returned channel
	// is closed after a terminal event; cancelling ctx yields a
	// terminal event with reason "cancelled".
	GenerateStream(ctx context.Context, req models.GenerationRequest) (<-chan models.TokenEvent, error)

	// Healthy reports whether the provider is reachable.
	Healthy(ctx context.Context) error
}

// SearchOptions narrows a vector similarity search.
type SearchOptions struct {
	TopK           int
	ScoreThreshold float32
	Filter         map[string]string
}

// VectorStore is the client contract for the external similarity-search
// service. Consistency is the store's concern: upserts are
// last-writer-wins per id.
type VectorStore interface {
	// Upsert inserts or overwrites chunks by id. Idempotent.
	Upsert(ctx context.Context, chunks []models.DocumentChunk) error

	// Search returns results ordered by score descending (ties broken
	// by id); entries below ScoreThreshold are excluded even when fewer
	// than TopK remain.
	Search(ctx context.Context, vector []float32, opts SearchOptions) ([]models.RetrievalResult, error)

	// Delete removes chunks by id. Absent ids are a no-op.
	Delete(ctx context.Context, ids []string) error

	// DeleteBySource removes every chunk of a source and returns how
	// many were deleted.
	DeleteBySource(ctx context.Context, sourceID string) (int, error)

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	Close()
}
