package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/finside/bankrag/internal/models"
)

// GenerationClient adapts a langchaingo model to the pipeline's
// Generator contract: full and streamed output with explicit finish
// reasons and prompt-level cancellation.
type GenerationClient struct {
	name    string
	model   llms.Model
	timeout time.Duration
	logger  *slog.Logger
}

// NewGenerator wraps a langchaingo model. name tags responses and
// errors (e.g. "ollama/mistral"); timeout bounds non-streamed calls.
func NewGenerator(name string, model llms.Model, timeout time.Duration, logger *slog.Logger) (*GenerationClient, error) {
	if model == nil {
		return nil, fmt.Errorf("generation model is required")
	}
	if name == "" {
		name = "llm"
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerationClient{name: name, model: model, timeout: timeout, logger: logger}, nil
}

func (g *GenerationClient) Name() string { return g.name }

// Generate produces the complete response for a prompt.
func (g *GenerationClient) Generate(ctx context.Context, req models.GenerationRequest) (string, models.FinishReason, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.model.GenerateContent(callCtx, buildMessages(req), callOptions(req)...)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", models.FinishCancelled, context.Canceled
		}
		return "", models.FinishError, &models.ProviderError{
			Provider:  g.name,
			Op:        "generate",
			Retryable: models.IsRetryable(err),
			Err:       err,
		}
	}
	if len(resp.Choices) == 0 {
		return "", models.FinishError, &models.ProviderError{
			Provider: g.name,
			Op:       "generate",
			Err:      errors.New("provider returned no choices"),
		}
	}

	choice := resp.Choices[0]
	return choice.Content, finishReason(choice.StopReason), nil
}

// GenerateStream produces incremental tokens. The goroutine driving the
// provider watches ctx through the streaming callback: cancellation
// aborts the upstream request within one round trip and the stream ends
// with a terminal "cancelled" event. The channel is always closed after
// the terminal event.
func (g *GenerationClient) GenerateStream(ctx context.Context, req models.GenerationRequest) (<-chan models.TokenEvent, error) {
	events := make(chan models.TokenEvent, 16)

	opts := append(callOptions(req), llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		select {
		case events <- models.TokenEvent{Token: string(chunk), Provider: g.name}:
			return nil
		case <-ctx.Done():
			// Returning the error tears down the provider stream.
			return ctx.Err()
		}
	}))

	go func() {
		defer close(events)

		resp, err := g.model.GenerateContent(ctx, buildMessages(req), opts...)
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			events <- models.TokenEvent{FinishReason: models.FinishCancelled, Provider: g.name}
		case err != nil:
			events <- models.TokenEvent{
				FinishReason: models.FinishError,
				Provider:     g.name,
				Err: &models.ProviderError{
					Provider:  g.name,
					Op:        "generate",
					Retryable: models.IsRetryable(err),
					Err:       err,
				},
			}
		case len(resp.Choices) == 0:
			events <- models.TokenEvent{FinishReason: models.FinishStop, Provider: g.name}
		default:
			events <- models.TokenEvent{FinishReason: finishReason(resp.Choices[0].StopReason), Provider: g.name}
		}
	}()

	return events, nil
}

// Healthy probes the provider with a minimal generation call.
func (g *GenerationClient) Healthy(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := g.model.GenerateContent(probeCtx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, "ping")},
		llms.WithMaxTokens(1))
	if err != nil {
		return fmt.Errorf("generation provider unreachable: %w", err)
	}
	return nil
}

func buildMessages(req models.GenerationRequest) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(req.History)+2)
	if req.System != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	for _, m := range req.History {
		role := llms.ChatMessageTypeHuman
		if m.Role == models.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		msgs = append(msgs, llms.TextParts(role, m.Content))
	}
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))
	return msgs
}

func callOptions(req models.GenerationRequest) []llms.CallOption {
	var opts []llms.CallOption
	if req.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(req.Temperature))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	return opts
}

// finishReason maps provider stop reasons onto the pipeline's finish
// taxonomy. Providers are inconsistent here; anything that is not an
// explicit length cutoff counts as a normal stop.
func finishReason(stop string) models.FinishReason {
	switch stop {
	case "length", "max_tokens", "MAX_TOKENS":
		return models.FinishLength
	default:
		return models.FinishStop
	}
}
