package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ProviderConfig selects one LLM backend. Provider is "ollama" or
// "openai"; APIKeyEnv names the environment variable holding the key so
// secrets never live in the config file.
type ProviderConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type Config struct {
	Embedding struct {
		ProviderConfig `yaml:",inline"`
		Dimension      int           `yaml:"dimension"`
		BatchSize      int           `yaml:"batch_size"`
		RateLimit      float64       `yaml:"rate_limit"` // requests per second
		MaxAttempts    int           `yaml:"max_attempts"`
		Timeout        time.Duration `yaml:"timeout"`
	} `yaml:"embedding"`

	Generation struct {
		Primary     ProviderConfig `yaml:"primary"`
		Fallback    ProviderConfig `yaml:"fallback"`
		Temperature float64        `yaml:"temperature"`
		MaxTokens   int            `yaml:"max_tokens"`
		MaxAttempts int            `yaml:"max_attempts"`
		Timeout     time.Duration  `yaml:"timeout"`
		System      string         `yaml:"system"`
	} `yaml:"generation"`

	Database struct {
		URL       string `yaml:"url"`
		TableName string `yaml:"table_name"`
		BatchSize int    `yaml:"batch_size"`
	} `yaml:"database"`

	Retrieval struct {
		TopK            int     `yaml:"top_k"`
		ScoreThreshold  float32 `yaml:"score_threshold"`
		MaxContextChars int     `yaml:"max_context_chars"`
	} `yaml:"retrieval"`

	Chunking struct {
		MaxChars     int `yaml:"max_chars"`
		OverlapChars int `yaml:"overlap_chars"`
	} `yaml:"chunking"`

	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`
}

// LoadConfig reads configuration from path, falling back to the default
// locations when path is empty. A missing file yields the defaults.
// Environment variables override file values; a .env file is honored
// when present.
func LoadConfig(path string) (*Config, error) {
	// Best effort; absence of a .env file is the normal case.
	_ = godotenv.Load()

	if path == "" {
		locations := []string{
			"bankrag.yaml",
			"bankrag.yml",
			filepath.Join(os.Getenv("HOME"), ".config/bankrag/config.yaml"),
			"/etc/bankrag/config.yaml",
		}
		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	config := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	mergeWithEnv(config)
	applyDefaults(config)

	return config, nil
}

func applyDefaults(config *Config) {
	if config.Embedding.Provider == "" {
		config.Embedding.Provider = "ollama"
	}
	if config.Embedding.Model == "" {
		config.Embedding.Model = "nomic-embed-text"
	}
	if config.Embedding.BaseURL == "" {
		config.Embedding.BaseURL = "http://localhost:11434"
	}
	if config.Embedding.Dimension == 0 {
		config.Embedding.Dimension = 768
	}
	if config.Embedding.BatchSize == 0 {
		config.Embedding.BatchSize = 32
	}
	if config.Embedding.RateLimit == 0 {
		config.Embedding.RateLimit = 10
	}
	if config.Embedding.MaxAttempts == 0 {
		config.Embedding.MaxAttempts = 3
	}
	if config.Embedding.Timeout == 0 {
		config.Embedding.Timeout = 60 * time.Second
	}

	if config.Generation.Primary.Provider == "" {
		config.Generation.Primary.Provider = "ollama"
	}
	if config.Generation.Primary.Model == "" {
		config.Generation.Primary.Model = "mistral"
	}
	if config.Generation.Primary.BaseURL == "" {
		config.Generation.Primary.BaseURL = "http://localhost:11434"
	}
	if config.Generation.Temperature == 0 {
		// Low temperature favors factual, context-grounded answers.
		config.Generation.Temperature = 0.2
	}
	if config.Generation.MaxTokens == 0 {
		config.Generation.MaxTokens = 2000
	}
	if config.Generation.MaxAttempts == 0 {
		config.Generation.MaxAttempts = 3
	}
	if config.Generation.Timeout == 0 {
		config.Generation.Timeout = 300 * time.Second
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "document_chunks"
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 5
	}
	if config.Retrieval.ScoreThreshold == 0 {
		config.Retrieval.ScoreThreshold = 0.5
	}
	if config.Retrieval.MaxContextChars == 0 {
		config.Retrieval.MaxContextChars = 6000
	}

	if config.Chunking.MaxChars == 0 {
		config.Chunking.MaxChars = 500
	}
	if config.Chunking.OverlapChars == 0 {
		config.Chunking.OverlapChars = 50
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.Embedding.BaseURL = baseURL
		if config.Generation.Primary.Provider == "" || config.Generation.Primary.Provider == "ollama" {
			config.Generation.Primary.BaseURL = baseURL
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if level := os.Getenv("BANKRAG_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
}
