package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tmc/langchaingo/embeddings"
	"golang.org/x/time/rate"

	"github.com/finside/bankrag/internal/models"
)

// EmbedderConfig configures an EmbeddingClient.
type EmbedderConfig struct {
	Provider    string        // provider tag for errors and logs
	Dimension   int           // expected vector dimension D
	BatchSize   int           // max texts per provider call
	RateLimit   float64       // provider calls per second
	MaxAttempts int           // attempts per batch before giving up
	Timeout     time.Duration // per-attempt timeout
}

// EmbeddingClient turns text into fixed-dimension vectors. Batches are
// capped, rate limited, and retried with exponential backoff and jitter;
// a dimension mismatch from the provider is a configuration fault and is
// never retried.
type EmbeddingClient struct {
	client      embeddings.EmbedderClient
	provider    string
	dimension   int
	batchSize   int
	limiter     *rate.Limiter
	maxAttempts int
	timeout     time.Duration
	logger      *slog.Logger
}

// NewEmbedder wraps a provider embedding backend. Zero config fields get
// conservative defaults.
func NewEmbedder(client embeddings.EmbedderClient, cfg EmbedderConfig, logger *slog.Logger) (*EmbeddingClient, error) {
	if client == nil {
		return nil, fmt.Errorf("embedding client is required")
	}
	if cfg.Dimension <= 0 {
		return nil, &models.ValidationError{Field: "dimension", Message: "must be positive"}
	}
	if cfg.Provider == "" {
		cfg.Provider = "embedding"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &EmbeddingClient{
		client:      client,
		provider:    cfg.Provider,
		dimension:   cfg.Dimension,
		batchSize:   cfg.BatchSize,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		maxAttempts: cfg.MaxAttempts,
		timeout:     cfg.Timeout,
		logger:      logger,
	}, nil
}

// Dimension returns the expected vector dimension.
func (e *EmbeddingClient) Dimension() int { return e.dimension }

// Embed embeds a single text.
func (e *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts preserving 1:1 input/output order. Inputs are
// split into provider calls of at most BatchSize texts; a failed call
// fails the whole operation with a single error.
func (e *EmbeddingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *EmbeddingClient) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var vecs [][]float32
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		got, err := e.client.CreateEmbedding(attemptCtx, batch)
		if err != nil {
			perr := &models.ProviderError{
				Provider:  e.provider,
				Op:        "embed",
				Retryable: models.IsRetryable(err),
				Err:       err,
			}
			if !perr.Retryable {
				return backoff.Permanent(perr)
			}
			e.logger.Warn("embedding batch failed, retrying", "provider", e.provider, "size", len(batch), "error", err)
			return perr
		}
		if len(got) != len(batch) {
			return backoff.Permanent(&models.ProviderError{
				Provider: e.provider,
				Op:       "embed",
				Err:      fmt.Errorf("provider returned %d embeddings for %d inputs", len(got), len(batch)),
			})
		}
		for _, v := range got {
			if len(v) != e.dimension {
				return backoff.Permanent(&models.DimensionMismatchError{Want: e.dimension, Got: len(v)})
			}
		}
		vecs = got
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.maxAttempts-1)), ctx))
	if err != nil {
		return nil, err
	}
	return vecs, nil
}

// Healthy probes the provider with a minimal embedding call.
func (e *EmbeddingClient) Healthy(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := e.client.CreateEmbedding(probeCtx, []string{"ok"}); err != nil {
		return fmt.Errorf("embedding provider unreachable: %w", err)
	}
	return nil
}
