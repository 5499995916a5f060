package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/finside/bankrag/internal/models"
	"github.com/finside/bankrag/internal/types"
	"github.com/finside/bankrag/pkg/chunker"
)

// Options are the service-level defaults applied when a caller's
// QueryOptions leave a knob at its zero value.
type Options struct {
	TopK               int
	ScoreThreshold     float32
	MaxContextChars    int
	Temperature        float64
	MaxTokens          int
	System             string
	GenerationAttempts int
	IngestBatchSize    int
	HistoryWindow      int
}

func (o *Options) applyDefaults() {
	if o.TopK <= 0 {
		o.TopK = 5
	}
	if o.ScoreThreshold == 0 {
		o.ScoreThreshold = 0.5
	}
	if o.MaxContextChars <= 0 {
		o.MaxContextChars = 6000
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 2000
	}
	if o.System == "" {
		o.System = DefaultSystemInstructions
	}
	if o.GenerationAttempts <= 0 {
		o.GenerationAttempts = 3
	}
	if o.IngestBatchSize <= 0 {
		o.IngestBatchSize = 32
	}
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = 5
	}
}

// Service orchestrates the full pipeline: ingestion (chunk, embed,
// store) and querying (embed, retrieve, assemble, generate). It owns
// cross-provider policy, retry with fallback in particular; the
// individual clients only talk to their own provider.
type Service struct {
	embedder types.Embedder
	store    types.VectorStore
	primary  types.Generator
	fallback types.Generator // nil when no fallback is configured
	splitter *chunker.Chunker
	opts     Options
	logger   *slog.Logger
}

// New wires the pipeline together. fallback may be nil.
func New(embedder types.Embedder, store types.VectorStore, primary, fallback types.Generator, splitter *chunker.Chunker, opts Options, logger *slog.Logger) *Service {
	opts.applyDefaults()
	return &Service{
		embedder: embedder,
		store:    store,
		primary:  primary,
		fallback: fallback,
		splitter: splitter,
		opts:     opts,
		logger:   logger,
	}
}

// Ingest chunks a document, embeds the chunks in batches and upserts
// them. Ingestion is idempotent: chunk ids are derived from content, so
// re-ingesting an unchanged document overwrites rows in place. A
// mid-run failure leaves earlier batches stored; the returned error
// reports how many chunks made it.
func (s *Service) Ingest(ctx context.Context, sourceID, text string, metadata map[string]string) (models.IngestResult, error) {
	result := models.IngestResult{SourceID: sourceID}

	if sourceID == "" {
		return result, &models.ValidationError{Field: "source_id", Message: "must not be empty"}
	}

	pieces := s.splitter.Chunk(text)
	result.ChunksCreated = len(pieces)
	if len(pieces) == 0 {
		s.logger.Info("nothing to ingest", "source_id", sourceID)
		return result, nil
	}

	now := time.Now().UTC()
	chunks := make([]models.DocumentChunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = models.DocumentChunk{
			ID:         models.ChunkID(sourceID, piece),
			SourceID:   sourceID,
			Text:       piece,
			Ordinal:    i,
			Metadata:   metadata,
			IngestedAt: now,
		}
	}

	s.logger.Info("ingesting document", "source_id", sourceID, "chunks", len(chunks))

	for start := 0; start < len(chunks); start += s.opts.IngestBatchSize {
		end := start + s.opts.IngestBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return result, &models.IngestionError{
				SourceID:  sourceID,
				Reason:    "embedding failed",
				Stored:    result.ChunksStored,
				Requested: result.ChunksCreated,
				Err:       err,
			}
		}
		for i := range batch {
			batch[i].Embedding = vectors[i]
		}

		if err := s.store.Upsert(ctx, batch); err != nil {
			return result, &models.IngestionError{
				SourceID:  sourceID,
				Reason:    "store upsert failed",
				Stored:    result.ChunksStored,
				Requested: result.ChunksCreated,
				Err:       err,
			}
		}
		result.ChunksStored = end
	}

	s.logger.Info("document ingested", "source_id", sourceID, "stored", result.ChunksStored)
	return result, nil
}

// DeleteSource removes every chunk of a source document and returns how
// many were deleted.
func (s *Service) DeleteSource(ctx context.Context, sourceID string) (int, error) {
	if sourceID == "" {
		return 0, &models.ValidationError{Field: "source_id", Message: "must not be empty"}
	}
	n, err := s.store.DeleteBySource(ctx, sourceID)
	if err != nil {
		return 0, fmt.Errorf("deleting source %q: %w", sourceID, err)
	}
	s.logger.Info("source deleted", "source_id", sourceID, "chunks_deleted", n)
	return n, nil
}

// Query answers a question in one shot: embed, retrieve, assemble
// context, generate. An embedding or retrieval failure aborts the query;
// generation falls back to the secondary provider when the primary's
// retry budget is exhausted on retryable errors.
func (s *Service) Query(ctx context.Context, question string, history []models.Message, opts models.QueryOptions) (models.GenerationResponse, error) {
	req, block, err := s.prepare(ctx, question, history, opts)
	if err != nil {
		return models.GenerationResponse{}, err
	}
	requestID := req.id

	s.transition(requestID, "generating")
	text, reason, tag, gen, err := s.generateWithFallback(ctx, req.generation)
	if err != nil {
		s.transition(requestID, stateFor(ctx, err))
		return models.GenerationResponse{}, err
	}

	s.transition(requestID, "completed")
	return models.GenerationResponse{
		Text:         text,
		FinishReason: reason,
		Provider:     tag,
		Model:        gen.Name(),
		ContextUsed:  !block.Empty(),
		Citations:    block.Citations(),
	}, nil
}

// QueryStream is Query with incremental token delivery. Retrieval and
// context assembly happen before the channel is returned, so citations
// are available up front. The stream ends with exactly one terminal
// event; cancelling ctx mid-stream yields reason "cancelled". Fallback
// only happens while no token has been emitted yet, a stream is never
// restarted once output reached the caller.
func (s *Service) QueryStream(ctx context.Context, question string, history []models.Message, opts models.QueryOptions) (<-chan models.TokenEvent, []models.Citation, error) {
	req, block, err := s.prepare(ctx, question, history, opts)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan models.TokenEvent, 16)
	go s.streamGenerate(ctx, req, out)

	return out, block.Citations(), nil
}

// Health probes the three external collaborators concurrently and
// reports per-component status plus the stored chunk count. It never
// returns an error: a down component is data, not a failure.
func (s *Service) Health(ctx context.Context) models.Health {
	health := models.Health{
		EmbeddingProvider:  models.StatusDown,
		VectorStore:        models.StatusDown,
		GenerationProvider: models.StatusDown,
	}

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		if err := s.embedder.Healthy(ctx); err != nil {
			s.logger.Warn("embedding provider down", "error", err)
			return
		}
		health.EmbeddingProvider = models.StatusUp
	}()

	go func() {
		defer wg.Done()
		if err := s.store.Ping(ctx); err != nil {
			s.logger.Warn("vector store down", "error", err)
			return
		}
		health.VectorStore = models.StatusUp
		if n, err := s.store.Count(ctx); err == nil {
			health.DocumentCount = n
		}
	}()

	go func() {
		defer wg.Done()
		if err := s.primary.Healthy(ctx); err != nil {
			s.logger.Warn("generation provider down", "provider", s.primary.Name(), "error", err)
			if s.fallback == nil {
				return
			}
			if err := s.fallback.Healthy(ctx); err != nil {
				s.logger.Warn("generation provider down", "provider", s.fallback.Name(), "error", err)
				return
			}
		}
		health.GenerationProvider = models.StatusUp
	}()

	wg.Wait()
	return health
}

// preparedQuery carries everything the generation phase needs.
type preparedQuery struct {
	id         string
	generation models.GenerationRequest
}

// prepare runs the pre-generation pipeline stages: validate, embed the
// question, search, assemble context, build the prompt.
func (s *Service) prepare(ctx context.Context, question string, history []models.Message, opts models.QueryOptions) (preparedQuery, models.ContextBlock, error) {
	requestID := uuid.New().String()
	req := preparedQuery{id: requestID}

	s.transition(requestID, "received")

	if question == "" {
		err := &models.ValidationError{Field: "question", Message: "must not be empty"}
		s.transition(requestID, "errored")
		return req, models.ContextBlock{}, err
	}

	resolved := s.resolve(opts)

	s.transition(requestID, "embedding")
	vector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		s.transition(requestID, stateFor(ctx, err))
		return req, models.ContextBlock{}, fmt.Errorf("embedding query: %w", err)
	}

	s.transition(requestID, "retrieving")
	results, err := s.store.Search(ctx, vector, types.SearchOptions{
		TopK:           resolved.TopK,
		ScoreThreshold: resolved.ScoreThreshold,
		Filter:         opts.Filter,
	})
	if err != nil {
		s.transition(requestID, stateFor(ctx, err))
		return req, models.ContextBlock{}, fmt.Errorf("searching store: %w", err)
	}

	s.transition(requestID, "assembling_context")
	block := Assemble(results, resolved.MaxContextChars)
	if block.Empty() {
		s.logger.Info("no relevant context found", "request_id", requestID, "results", len(results))
	}

	if n := len(history); n > s.opts.HistoryWindow {
		history = history[n-s.opts.HistoryWindow:]
	}

	req.generation = models.GenerationRequest{
		System:      resolved.System,
		Prompt:      buildPrompt(question, block),
		History:     history,
		Temperature: resolved.Temperature,
		MaxTokens:   resolved.MaxTokens,
	}
	return req, block, nil
}

// resolve fills zero-valued caller options from the service defaults.
func (s *Service) resolve(opts models.QueryOptions) models.QueryOptions {
	if opts.TopK <= 0 {
		opts.TopK = s.opts.TopK
	}
	if opts.ScoreThreshold == 0 {
		opts.ScoreThreshold = s.opts.ScoreThreshold
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = s.opts.MaxContextChars
	}
	if opts.System == "" {
		opts.System = s.opts.System
	}
	if opts.Temperature == 0 {
		opts.Temperature = s.opts.Temperature
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = s.opts.MaxTokens
	}
	return opts
}

// generateWithFallback tries the primary generator for the full retry
// budget, then the fallback for its own budget. Only retryable errors
// consume further attempts; validation-class failures surface at once.
// The returned tag is "primary" or "fallback" so callers always know
// which provider actually answered.
func (s *Service) generateWithFallback(ctx context.Context, req models.GenerationRequest) (string, models.FinishReason, string, types.Generator, error) {
	var lastErr error

	for _, p := range s.providers() {
		text, reason, err := s.generateWithRetry(ctx, p.gen, req)
		if err == nil {
			if p.tag == "fallback" {
				s.logger.Warn("answered by fallback provider", "provider", p.gen.Name(), "primary_error", lastErr)
			}
			return text, reason, p.tag, p.gen, nil
		}
		lastErr = err
		if !models.IsRetryable(err) || ctx.Err() != nil {
			break
		}
		s.logger.Warn("provider exhausted", "role", p.tag, "provider", p.gen.Name(), "error", err)
	}

	return "", models.FinishError, "", nil, lastErr
}

// generateWithRetry runs a single provider through the retry budget
// with exponential backoff.
func (s *Service) generateWithRetry(ctx context.Context, gen types.Generator, req models.GenerationRequest) (string, models.FinishReason, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 0

	var lastErr error
	for attempt := 1; attempt <= s.opts.GenerationAttempts; attempt++ {
		text, reason, err := gen.Generate(ctx, req)
		if err == nil {
			return text, reason, nil
		}
		lastErr = err
		if !models.IsRetryable(err) || ctx.Err() != nil {
			return "", models.FinishError, err
		}
		if attempt == s.opts.GenerationAttempts {
			break
		}

		wait := b.NextBackOff()
		s.logger.Debug("generation attempt failed, retrying",
			"provider", gen.Name(), "attempt", attempt, "backoff", wait, "error", err)
		select {
		case <-ctx.Done():
			return "", models.FinishError, ctx.Err()
		case <-time.After(wait):
		}
	}
	return "", models.FinishError, lastErr
}

type provider struct {
	tag string
	gen types.Generator
}

func (s *Service) providers() []provider {
	ps := []provider{{tag: "primary", gen: s.primary}}
	if s.fallback != nil {
		ps = append(ps, provider{tag: "fallback", gen: s.fallback})
	}
	return ps
}

// streamGenerate drives a token stream through the provider chain and
// forwards events to out, rewriting Provider to the role tag. It moves
// to the next provider only when the current stream failed before
// emitting any token; once output reached the caller the stream's
// outcome is final.
func (s *Service) streamGenerate(ctx context.Context, req preparedQuery, out chan<- models.TokenEvent) {
	defer close(out)

	s.transition(req.id, "generating")

	var lastErr error
	for _, p := range s.providers() {
		events, err := p.gen.GenerateStream(ctx, req.generation)
		if err != nil {
			lastErr = err
			if !models.IsRetryable(err) || ctx.Err() != nil {
				break
			}
			s.logger.Warn("stream start failed", "role", p.tag, "provider", p.gen.Name(), "error", err)
			continue
		}

		if p.tag == "fallback" {
			s.logger.Warn("streaming from fallback provider", "provider", p.gen.Name(), "primary_error", lastErr)
		}

		emitted := false
		restart := false
		for ev := range events {
			ev.Provider = p.tag
			if ev.Terminal() {
				if ev.FinishReason == models.FinishError && !emitted && models.IsRetryable(ev.Err) && ctx.Err() == nil {
					lastErr = ev.Err
					restart = true
					break
				}
				s.transition(req.id, stateForReason(ev.FinishReason))
				out <- ev
				return
			}
			emitted = true
			out <- ev
		}
		if !restart {
			// Stream closed without a terminal event; treat as stop.
			s.transition(req.id, "completed")
			out <- models.TokenEvent{FinishReason: models.FinishStop, Provider: p.tag}
			return
		}
	}

	s.transition(req.id, stateFor(ctx, lastErr))
	out <- models.TokenEvent{
		FinishReason: models.FinishError,
		Err:          lastErr,
	}
}

// transition logs a query state change. States are observability only;
// the flow itself is the call sequence.
func (s *Service) transition(requestID, state string) {
	s.logger.Debug("query state", "request_id", requestID, "state", state)
}

func stateFor(ctx context.Context, err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return "cancelled"
	}
	return "errored"
}

func stateForReason(reason models.FinishReason) string {
	switch reason {
	case models.FinishCancelled:
		return "cancelled"
	case models.FinishError:
		return "errored"
	default:
		return "completed"
	}
}
