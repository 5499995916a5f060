package llm

import (
	"fmt"
	"os"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/finside/bankrag/pkg/config"
)

// NewModel builds a langchaingo model for the configured provider.
// Providers stay swappable behind llms.Model, which is what makes the
// primary/fallback generation chain possible.
func NewModel(p config.ProviderConfig) (llms.Model, error) {
	switch p.Provider {
	case "ollama":
		return ollama.New(
			ollama.WithModel(p.Model),
			ollama.WithServerURL(p.BaseURL),
		)
	case "openai":
		opts := []openai.Option{openai.WithModel(p.Model)}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		if p.APIKeyEnv != "" {
			opts = append(opts, openai.WithToken(os.Getenv(p.APIKeyEnv)))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", p.Provider)
	}
}

// NewEmbeddingClient builds the raw embedding backend for the
// configured provider. Both backends satisfy embeddings.EmbedderClient.
func NewEmbeddingClient(p config.ProviderConfig) (embeddings.EmbedderClient, error) {
	switch p.Provider {
	case "ollama":
		return ollama.New(
			ollama.WithModel(p.Model),
			ollama.WithServerURL(p.BaseURL),
		)
	case "openai":
		opts := []openai.Option{openai.WithEmbeddingModel(p.Model)}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		if p.APIKeyEnv != "" {
			opts = append(opts, openai.WithToken(os.Getenv(p.APIKeyEnv)))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", p.Provider)
	}
}

// ProviderName renders a stable identifier for logs and response tags.
func ProviderName(p config.ProviderConfig) string {
	return fmt.Sprintf("%s/%s", p.Provider, p.Model)
}
