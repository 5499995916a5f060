package llm_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/finside/bankrag/internal/log"
	"github.com/finside/bankrag/internal/models"
	"github.com/finside/bankrag/pkg/llm"
)

// fakeModel scripts a langchaingo backend. With a streaming func in the
// call options it emits tokens one by one; blockUntilCancel then parks
// until the context is cancelled, mimicking a provider mid-stream.
type fakeModel struct {
	tokens           []string
	stopReason       string
	err              error
	blockUntilCancel bool

	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	f.opts = llms.CallOptions{}
	for _, opt := range options {
		opt(&f.opts)
	}

	if f.err != nil {
		return nil, f.err
	}

	if f.opts.StreamingFunc != nil {
		for _, tok := range f.tokens {
			if err := f.opts.StreamingFunc(ctx, []byte(tok)); err != nil {
				return nil, err
			}
		}
		if f.blockUntilCancel {
			<-ctx.Done()
			return nil, ctx.Err()
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{Content: strings.Join(f.tokens, ""), StopReason: f.stopReason},
		},
	}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := f.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func newTestGenerator(t *testing.T, model llms.Model) *llm.GenerationClient {
	t.Helper()
	gen, err := llm.NewGenerator("fake/model", model, time.Minute, log.NewNop())
	require.NoError(t, err)
	return gen
}

func TestGenerate_FullResponse(t *testing.T) {
	model := &fakeModel{tokens: []string{"The fee ", "is $25."}, stopReason: "stop"}
	gen := newTestGenerator(t, model)

	text, reason, err := gen.Generate(context.Background(), models.GenerationRequest{
		System:      "be helpful",
		Prompt:      "what is the fee?",
		Temperature: 0.2,
		MaxTokens:   100,
	})
	require.NoError(t, err)
	assert.Equal(t, "The fee is $25.", text)
	assert.Equal(t, models.FinishStop, reason)

	// System, then the prompt as the final human turn.
	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, 0.2, model.opts.Temperature)
	assert.Equal(t, 100, model.opts.MaxTokens)
}

func TestGenerate_HistoryRoles(t *testing.T) {
	model := &fakeModel{tokens: []string{"ok"}}
	gen := newTestGenerator(t, model)

	_, _, err := gen.Generate(context.Background(), models.GenerationRequest{
		Prompt: "and savings?",
		History: []models.Message{
			{Role: models.RoleUser, Content: "what about checking?"},
			{Role: models.RoleAssistant, Content: "No monthly fee."},
		},
	})
	require.NoError(t, err)

	require.Len(t, model.messages, 3)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, model.messages[1].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[2].Role)
}

func TestGenerate_LengthStop(t *testing.T) {
	model := &fakeModel{tokens: []string{"truncated"}, stopReason: "max_tokens"}
	gen := newTestGenerator(t, model)

	_, reason, err := gen.Generate(context.Background(), models.GenerationRequest{Prompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, models.FinishLength, reason)
}

func TestGenerate_ProviderError(t *testing.T) {
	model := &fakeModel{err: errors.New("status code: 503")}
	gen := newTestGenerator(t, model)

	_, reason, err := gen.Generate(context.Background(), models.GenerationRequest{Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, models.FinishError, reason)

	var perr *models.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "fake/model", perr.Provider)
	assert.True(t, perr.Retryable)
}

func TestGenerate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	model := &fakeModel{err: context.Canceled}
	gen := newTestGenerator(t, model)

	_, reason, err := gen.Generate(ctx, models.GenerationRequest{Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, models.FinishCancelled, reason)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerateStream_TokensThenTerminal(t *testing.T) {
	model := &fakeModel{tokens: []string{"a", "b", "c"}, stopReason: "stop"}
	gen := newTestGenerator(t, model)

	events, err := gen.GenerateStream(context.Background(), models.GenerationRequest{Prompt: "q"})
	require.NoError(t, err)

	var tokens []string
	var terminal models.TokenEvent
	for ev := range events {
		if ev.Terminal() {
			terminal = ev
			continue
		}
		tokens = append(tokens, ev.Token)
	}

	assert.Equal(t, []string{"a", "b", "c"}, tokens)
	assert.Equal(t, models.FinishStop, terminal.FinishReason)
	assert.NoError(t, terminal.Err)

	// Channel must be closed after the terminal event.
	_, open := <-events
	assert.False(t, open)
}

func TestGenerateStream_Cancellation(t *testing.T) {
	model := &fakeModel{tokens: []string{"a", "b"}, blockUntilCancel: true}
	gen := newTestGenerator(t, model)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := gen.GenerateStream(ctx, models.GenerationRequest{Prompt: "q"})
	require.NoError(t, err)

	var tokens []string
	var terminal models.TokenEvent
	for ev := range events {
		if ev.Terminal() {
			terminal = ev
			continue
		}
		tokens = append(tokens, ev.Token)
		if len(tokens) == 2 {
			cancel()
		}
	}

	assert.Equal(t, []string{"a", "b"}, tokens)
	assert.Equal(t, models.FinishCancelled, terminal.FinishReason)
}

func TestGenerateStream_ProviderError(t *testing.T) {
	model := &fakeModel{err: errors.New("connection reset")}
	gen := newTestGenerator(t, model)

	events, err := gen.GenerateStream(context.Background(), models.GenerationRequest{Prompt: "q"})
	require.NoError(t, err)

	var terminal models.TokenEvent
	for ev := range events {
		require.True(t, ev.Terminal())
		terminal = ev
	}
	assert.Equal(t, models.FinishError, terminal.FinishReason)
	require.Error(t, terminal.Err)
	assert.True(t, models.IsRetryable(terminal.Err))
}

func TestHealthy_Generator(t *testing.T) {
	model := &fakeModel{tokens: []string{"pong"}}
	gen := newTestGenerator(t, model)
	require.NoError(t, gen.Healthy(context.Background()))
	assert.Equal(t, 1, model.opts.MaxTokens)

	down := &fakeModel{err: errors.New("connection refused")}
	gen = newTestGenerator(t, down)
	assert.Error(t, gen.Healthy(context.Background()))
}
