// Package cli implements the bankrag command tree. Commands wire the
// configured providers into a rag.Service and stay thin: all pipeline
// behavior lives in pkg/rag.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/finside/bankrag/internal/log"
	"github.com/finside/bankrag/internal/types"
	"github.com/finside/bankrag/pkg/chunker"
	"github.com/finside/bankrag/pkg/config"
	"github.com/finside/bankrag/pkg/llm"
	"github.com/finside/bankrag/pkg/rag"
	"github.com/finside/bankrag/pkg/store"
)

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
	logger   *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "bankrag",
	Short: "Retrieval-augmented answering over a bank document knowledge base",
	Long: `bankrag ingests bank documents into a pgvector-backed knowledge base
and answers questions about them with cited, retrieval-augmented
generation.

Example usage:
  bankrag ingest docs/fees.md docs/cards.html   # Ingest documents
  bankrag query -q "What are the wire fees?"    # Ask a one-shot question
  bankrag chat                                  # Interactive session
  bankrag health                                # Probe the providers`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}

		if errs := cfg.Validate(); len(errs) > 0 {
			for _, e := range errs {
				color.Red("config: %s", e.Error())
			}
			return fmt.Errorf("invalid configuration (%d problems)", len(errs))
		}

		logger = log.New(log.Config{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./bankrag.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

// buildService assembles the pipeline from the loaded config. The
// returned cleanup closes the store; callers defer it.
func buildService(ctx context.Context) (*rag.Service, func(), error) {
	embClient, err := llm.NewEmbeddingClient(cfg.Embedding.ProviderConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	embedder, err := llm.NewEmbedder(embClient, llm.EmbedderConfig{
		Provider:    llm.ProviderName(cfg.Embedding.ProviderConfig),
		Dimension:   cfg.Embedding.Dimension,
		BatchSize:   cfg.Embedding.BatchSize,
		RateLimit:   cfg.Embedding.RateLimit,
		MaxAttempts: cfg.Embedding.MaxAttempts,
		Timeout:     cfg.Embedding.Timeout,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	vectorStore, err := buildStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	primary, err := buildGenerator(cfg.Generation.Primary)
	if err != nil {
		vectorStore.Close()
		return nil, nil, fmt.Errorf("failed to initialize primary generator: %w", err)
	}

	var fallback *llm.GenerationClient
	if cfg.Generation.Fallback.Provider != "" {
		fallback, err = buildGenerator(cfg.Generation.Fallback)
		if err != nil {
			vectorStore.Close()
			return nil, nil, fmt.Errorf("failed to initialize fallback generator: %w", err)
		}
	}

	splitter, err := chunker.New(cfg.Chunking.MaxChars, cfg.Chunking.OverlapChars)
	if err != nil {
		vectorStore.Close()
		return nil, nil, fmt.Errorf("failed to initialize chunker: %w", err)
	}

	opts := rag.Options{
		TopK:               cfg.Retrieval.TopK,
		ScoreThreshold:     cfg.Retrieval.ScoreThreshold,
		MaxContextChars:    cfg.Retrieval.MaxContextChars,
		Temperature:        cfg.Generation.Temperature,
		MaxTokens:          cfg.Generation.MaxTokens,
		System:             cfg.Generation.System,
		GenerationAttempts: cfg.Generation.MaxAttempts,
		IngestBatchSize:    cfg.Database.BatchSize,
	}

	var service *rag.Service
	if fallback != nil {
		service = rag.New(embedder, vectorStore, primary, fallback, splitter, opts, logger)
	} else {
		service = rag.New(embedder, vectorStore, primary, nil, splitter, opts, logger)
	}
	return service, vectorStore.Close, nil
}

func buildStore(ctx context.Context) (types.VectorStore, error) {
	if cfg.Database.URL == "" {
		logger.Warn("no database url configured, using in-memory store")
		mem, err := store.NewMemory(cfg.Embedding.Dimension)
		if err != nil {
			return nil, err
		}
		return mem, nil
	}
	pg, err := store.NewPgVector(ctx, store.VectorStoreConfig{
		ConnString: cfg.Database.URL,
		TableName:  cfg.Database.TableName,
		VectorDim:  cfg.Embedding.Dimension,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	return pg, nil
}

func buildGenerator(p config.ProviderConfig) (*llm.GenerationClient, error) {
	model, err := llm.NewModel(p)
	if err != nil {
		return nil, err
	}
	return llm.NewGenerator(llm.ProviderName(p), model, cfg.Generation.Timeout, logger)
}
