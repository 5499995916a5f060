package config

import (
	"fmt"
	"net/url"
	"os"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var knownProviders = map[string]bool{
	"ollama": true,
	"openai": true,
}

// Validate checks the loaded configuration and returns every problem
// found rather than stopping at the first.
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, validateProvider("embedding", c.Embedding.ProviderConfig)...)
	errors = append(errors, validateProvider("generation.primary", c.Generation.Primary)...)
	if c.Generation.Fallback.Provider != "" {
		errors = append(errors, validateProvider("generation.fallback", c.Generation.Fallback)...)
	}

	if c.Embedding.Dimension < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedding.dimension",
			Message: "dimension must be positive",
		})
	}
	if c.Embedding.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedding.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "generation.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}
	if c.Generation.MaxTokens < 1 {
		errors = append(errors, ValidationError{
			Field:   "generation.max_tokens",
			Message: "max_tokens must be positive",
		})
	}

	if c.Retrieval.TopK < 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.top_k",
			Message: "top_k must be positive",
		})
	}
	if c.Retrieval.ScoreThreshold < 0 || c.Retrieval.ScoreThreshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.score_threshold",
			Message: "score_threshold must be between 0 and 1",
		})
	}
	if c.Retrieval.MaxContextChars < 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.max_context_chars",
			Message: "max_context_chars must be positive",
		})
	}

	if c.Chunking.MaxChars < 1 {
		errors = append(errors, ValidationError{
			Field:   "chunking.max_chars",
			Message: "max_chars must be positive",
		})
	}
	if c.Chunking.OverlapChars < 0 || c.Chunking.OverlapChars >= c.Chunking.MaxChars {
		errors = append(errors, ValidationError{
			Field:   "chunking.overlap_chars",
			Message: "overlap_chars must be non-negative and smaller than max_chars",
		})
	}

	return errors
}

func validateProvider(field string, p ProviderConfig) []ValidationError {
	var errors []ValidationError

	if !knownProviders[p.Provider] {
		errors = append(errors, ValidationError{
			Field:   field + ".provider",
			Message: fmt.Sprintf("unknown provider %q (supported: ollama, openai)", p.Provider),
		})
		return errors
	}

	if p.Model == "" {
		errors = append(errors, ValidationError{
			Field:   field + ".model",
			Message: "model is required",
		})
	}

	if p.BaseURL != "" {
		if _, err := url.ParseRequestURI(p.BaseURL); err != nil {
			errors = append(errors, ValidationError{
				Field:   field + ".base_url",
				Message: fmt.Sprintf("invalid URL: %v", err),
			})
		}
	}

	if p.Provider == "openai" {
		if p.APIKeyEnv == "" {
			errors = append(errors, ValidationError{
				Field:   field + ".api_key_env",
				Message: "api_key_env is required for openai",
			})
		} else if os.Getenv(p.APIKeyEnv) == "" {
			errors = append(errors, ValidationError{
				Field:   field + ".api_key_env",
				Message: fmt.Sprintf("environment variable %s is not set", p.APIKeyEnv),
			})
		}
	}

	return errors
}
