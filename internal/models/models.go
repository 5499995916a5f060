package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DocumentChunk is a bounded slice of a source document, embedded and
// stored independently. Chunks are immutable once stored; re-ingesting
// the same (sourceID, text) pair overwrites the existing row in place.
type DocumentChunk struct {
	ID         string
	SourceID   string
	Text       string
	Ordinal    int
	Embedding  []float32
	Metadata   map[string]string
	IngestedAt time.Time
}

// ChunkID derives the chunk identifier from its source and text. The id
// is a pure function of both, which makes re-ingestion idempotent: the
// same document always produces the same ids and upserts converge.
func ChunkID(sourceID, text string) string {
	h := sha256.Sum256([]byte(sourceID + "\x00" + text))
	return hex.EncodeToString(h[:])[:16]
}

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// RetrievalResult pairs a stored chunk with its similarity score.
// Scores are cosine similarities in [0,1]; results are ordered by
// non-increasing score with Rank starting at 1.
type RetrievalResult struct {
	Chunk DocumentChunk
	Score float32
	Rank  int
}

// ContextEntry is one retrieved chunk admitted into the context block,
// tagged with its 1-based citation index.
type ContextEntry struct {
	Citation int
	Result   RetrievalResult
}

// ContextBlock is the size-bounded, cited subset of retrieval results
// that gets injected into the generation prompt.
type ContextBlock struct {
	Entries []ContextEntry
	Chars   int // rendered size actually used
	Budget  int // maximum allowed rendered size
}

// Empty reports whether no chunk passed retrieval; the orchestrator
// must switch to no-context generation in that case.
func (b ContextBlock) Empty() bool { return len(b.Entries) == 0 }

// Citations resolves the block back to source metadata so "[1]" in
// generated text can be traced to the chunk that informed it.
func (b ContextBlock) Citations() []Citation {
	cites := make([]Citation, 0, len(b.Entries))
	for _, e := range b.Entries {
		cites = append(cites, Citation{
			Index:    e.Citation,
			ChunkID:  e.Result.Chunk.ID,
			SourceID: e.Result.Chunk.SourceID,
			Score:    e.Result.Score,
			Metadata: e.Result.Chunk.Metadata,
		})
	}
	return cites
}

// Citation links generated text back to the chunk that informed it.
type Citation struct {
	Index    int               `json:"index"`
	ChunkID  string            `json:"chunk_id"`
	SourceID string            `json:"source_id"`
	Score    float32           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// GenerationRequest carries everything a generation provider needs.
type GenerationRequest struct {
	System      string
	Prompt      string
	History     []Message
	Temperature float64
	MaxTokens   int
}

// FinishReason is the terminal state of a generation.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishError     FinishReason = "error"
	FinishCancelled FinishReason = "cancelled"
)

// TokenEvent is one element of a generation stream. Non-terminal events
// carry a token; the terminal event has a non-empty FinishReason (and
// Err when the reason is "error"), after which the channel is closed.
type TokenEvent struct {
	Token        string
	FinishReason FinishReason
	Provider     string
	Err          error
}

// Terminal reports whether this event ends the stream.
func (e TokenEvent) Terminal() bool { return e.FinishReason != "" }

// GenerationResponse is a complete (non-streamed) answer.
type GenerationResponse struct {
	Text         string       `json:"text"`
	FinishReason FinishReason `json:"finish_reason"`
	Provider     string       `json:"provider_used"` // "primary" or "fallback"
	Model        string       `json:"model"`
	ContextUsed  bool         `json:"context_used"`
	Citations    []Citation   `json:"citations,omitempty"`
}

// QueryOptions are caller-overridable retrieval and sampling knobs.
// Zero values fall back to configured defaults.
type QueryOptions struct {
	TopK            int
	ScoreThreshold  float32
	MaxContextChars int
	Filter          map[string]string
	System          string
	Temperature     float64
	MaxTokens       int
}

// IngestResult reports ingestion at per-chunk granularity: Stored may be
// lower than Created when a mid-batch failure interrupted the run.
type IngestResult struct {
	SourceID      string `json:"source_id"`
	ChunksCreated int    `json:"chunks_created"`
	ChunksStored  int    `json:"chunks_stored"`
}

// ComponentStatus is a coarse health verdict for one external provider.
type ComponentStatus string

const (
	StatusUp   ComponentStatus = "up"
	StatusDown ComponentStatus = "down"
)

// Health aggregates the state of the three external collaborators.
type Health struct {
	EmbeddingProvider  ComponentStatus `json:"embedding_provider"`
	VectorStore        ComponentStatus `json:"vector_store"`
	GenerationProvider ComponentStatus `json:"generation_provider"`
	DocumentCount      int             `json:"document_count"`
}

// Healthy reports whether every component is up.
func (h Health) Healthy() bool {
	return h.EmbeddingProvider == StatusUp &&
		h.VectorStore == StatusUp &&
		h.GenerationProvider == StatusUp
}
