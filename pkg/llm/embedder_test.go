package llm_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finside/bankrag/internal/log"
	"github.com/finside/bankrag/internal/models"
	"github.com/finside/bankrag/pkg/llm"
)

// fakeEmbeddingClient fails its first failures calls with failErr, then
// returns dim-sized vectors whose first element encodes the input's
// position across all calls, so ordering bugs are visible in the output.
type fakeEmbeddingClient struct {
	mu       sync.Mutex
	calls    [][]string
	failures int
	failErr  error
	dim      int
	seen     int
}

func (f *fakeEmbeddingClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, append([]string(nil), texts...))
	if f.failures > 0 {
		f.failures--
		return nil, f.failErr
	}

	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, f.dim)
		vec[0] = float32(f.seen)
		f.seen++
		out[i] = vec
	}
	return out, nil
}

func newTestEmbedder(t *testing.T, client *fakeEmbeddingClient, cfg llm.EmbedderConfig) *llm.EmbeddingClient {
	t.Helper()
	if cfg.Dimension == 0 {
		cfg.Dimension = 4
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1000 // keep tests fast
	}
	emb, err := llm.NewEmbedder(client, cfg, log.NewNop())
	require.NoError(t, err)
	return emb
}

func TestNewEmbedder_Validation(t *testing.T) {
	_, err := llm.NewEmbedder(nil, llm.EmbedderConfig{Dimension: 4}, log.NewNop())
	assert.Error(t, err)

	_, err = llm.NewEmbedder(&fakeEmbeddingClient{dim: 4}, llm.EmbedderConfig{}, log.NewNop())
	assert.Error(t, err)
}

func TestEmbedBatch_PreservesOrderAcrossBatches(t *testing.T) {
	client := &fakeEmbeddingClient{dim: 4}
	emb := newTestEmbedder(t, client, llm.EmbedderConfig{BatchSize: 2})

	texts := []string{"a", "b", "c", "d", "e"}
	vecs, err := emb.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 5)

	// Position markers come back in input order.
	for i, v := range vecs {
		assert.Equal(t, float32(i), v[0])
	}

	// No provider call exceeded the batch cap.
	require.Len(t, client.calls, 3)
	for _, call := range client.calls {
		assert.LessOrEqual(t, len(call), 2)
	}
	assert.Equal(t, []string{"a", "b"}, client.calls[0])
	assert.Equal(t, []string{"e"}, client.calls[2])
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	client := &fakeEmbeddingClient{dim: 4}
	emb := newTestEmbedder(t, client, llm.EmbedderConfig{})

	vecs, err := emb.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
	assert.Empty(t, client.calls)
}

func TestEmbedBatch_RetriesTransientErrors(t *testing.T) {
	client := &fakeEmbeddingClient{
		dim:      4,
		failures: 2,
		failErr:  errors.New("connection refused"),
	}
	emb := newTestEmbedder(t, client, llm.EmbedderConfig{MaxAttempts: 3})

	vecs, err := emb.EmbedBatch(context.Background(), []string{"hello"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Len(t, client.calls, 3)
}

func TestEmbedBatch_ExhaustsRetryBudget(t *testing.T) {
	client := &fakeEmbeddingClient{
		dim:      4,
		failures: 10,
		failErr:  errors.New("status code: 503"),
	}
	emb := newTestEmbedder(t, client, llm.EmbedderConfig{MaxAttempts: 3})

	_, err := emb.EmbedBatch(context.Background(), []string{"hello"})
	require.Error(t, err)
	assert.Len(t, client.calls, 3)

	var perr *models.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Retryable)
}

func TestEmbedBatch_NonRetryableFailsFast(t *testing.T) {
	client := &fakeEmbeddingClient{
		dim:      4,
		failures: 10,
		failErr:  errors.New("invalid api key"),
	}
	emb := newTestEmbedder(t, client, llm.EmbedderConfig{MaxAttempts: 3})

	_, err := emb.EmbedBatch(context.Background(), []string{"hello"})
	require.Error(t, err)
	assert.Len(t, client.calls, 1)
}

func TestEmbedBatch_DimensionMismatchNeverRetried(t *testing.T) {
	client := &fakeEmbeddingClient{dim: 3} // provider returns 3, config wants 4
	emb := newTestEmbedder(t, client, llm.EmbedderConfig{Dimension: 4, MaxAttempts: 3})

	_, err := emb.EmbedBatch(context.Background(), []string{"hello"})
	require.Error(t, err)
	assert.Len(t, client.calls, 1)

	var dimErr *models.DimensionMismatchError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 4, dimErr.Want)
	assert.Equal(t, 3, dimErr.Got)
}

func TestEmbed_SingleText(t *testing.T) {
	client := &fakeEmbeddingClient{dim: 4}
	emb := newTestEmbedder(t, client, llm.EmbedderConfig{})

	vec, err := emb.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, 4, emb.Dimension())
}

func TestHealthy(t *testing.T) {
	client := &fakeEmbeddingClient{dim: 4}
	emb := newTestEmbedder(t, client, llm.EmbedderConfig{})
	assert.NoError(t, emb.Healthy(context.Background()))

	down := &fakeEmbeddingClient{dim: 4, failures: 10, failErr: errors.New("connection refused")}
	emb = newTestEmbedder(t, down, llm.EmbedderConfig{})
	assert.Error(t, emb.Healthy(context.Background()))
}
