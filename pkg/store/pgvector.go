// Package store provides vector store clients: PostgreSQL + pgvector
// for production and an in-memory implementation for tests and local
// runs. Both honor the same contract: last-writer-wins upsert by chunk
// id, similarity search ordered by score descending with deterministic
// id tie-break, and threshold filtering.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/finside/bankrag/internal/models"
	"github.com/finside/bankrag/internal/types"
)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
}

// PgVectorStore is a client for a pgvector-backed collection. The
// collection dimensionality is fixed when the table is created; upserts
// and searches with a different dimension are rejected before reaching
// the database.
type PgVectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ types.VectorStore = (*PgVectorStore)(nil)

func NewPgVector(ctx context.Context, config VectorStoreConfig, logger *slog.Logger) (*PgVectorStore, error) {
	if config.TableName == "" {
		config.TableName = "document_chunks"
	}
	if config.VectorDim <= 0 {
		return nil, &models.ValidationError{Field: "vector_dim", Message: "must be positive"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &PgVectorStore{config: config, pool: pool, logger: logger}
	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return vs, nil
}

func (vs *PgVectorStore) initialize(ctx context.Context) error {
	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			metadata JSONB,
			ingested_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, vs.config.TableName, vs.config.VectorDim)
	if _, err := vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		vs.config.TableName, vs.config.TableName)
	if _, err := vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}

	createSourceIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_source_idx ON %s (source_id)`,
		vs.config.TableName, vs.config.TableName)
	if _, err := vs.pool.Exec(ctx, createSourceIndex); err != nil {
		return fmt.Errorf("failed to create source index: %w", err)
	}

	return nil
}

// Upsert writes chunks one at a time so a mid-batch failure leaves the
// chunks already written in place; chunk ids are deterministic, so the
// caller can simply re-run the ingestion to converge.
func (vs *PgVectorStore) Upsert(ctx context.Context, chunks []models.DocumentChunk) error {
	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, source_id, ordinal, content, embedding, metadata, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			source_id = EXCLUDED.source_id,
			ordinal = EXCLUDED.ordinal,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			ingested_at = EXCLUDED.ingested_at`,
		vs.config.TableName)

	for _, chunk := range chunks {
		if len(chunk.Embedding) != vs.config.VectorDim {
			return &models.DimensionMismatchError{Want: vs.config.VectorDim, Got: len(chunk.Embedding)}
		}

		metadataJSON, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for chunk %q: %w", chunk.ID, err)
		}

		ingestedAt := chunk.IngestedAt
		if ingestedAt.IsZero() {
			ingestedAt = time.Now().UTC()
		}

		_, err = vs.pool.Exec(ctx, stmt,
			chunk.ID,
			chunk.SourceID,
			chunk.Ordinal,
			chunk.Text,
			pgvector.NewVector(chunk.Embedding),
			metadataJSON,
			ingestedAt,
		)
		if err != nil {
			return &models.ProviderError{
				Provider:  "pgvector",
				Op:        "upsert",
				Retryable: models.IsRetryable(err),
				Err:       fmt.Errorf("chunk %q: %w", chunk.ID, err),
			}
		}
	}

	return nil
}

// Search runs a cosine similarity query. Scores are 1 - cosine distance;
// rows below the threshold are excluded even when fewer than TopK
// remain, and ties are broken by id so ordering is deterministic.
func (vs *PgVectorStore) Search(ctx context.Context, vector []float32, opts types.SearchOptions) ([]models.RetrievalResult, error) {
	if len(vector) != vs.config.VectorDim {
		return nil, &models.DimensionMismatchError{Want: vs.config.VectorDim, Got: len(vector)}
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}

	args := []any{pgvector.NewVector(vector), opts.ScoreThreshold, opts.TopK}
	filterClause := ""
	if len(opts.Filter) > 0 {
		filterJSON, err := json.Marshal(opts.Filter)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal filter: %w", err)
		}
		filterClause = " AND metadata @> $4::jsonb"
		args = append(args, filterJSON)
	}

	query := fmt.Sprintf(`
		SELECT id, source_id, ordinal, content, metadata, ingested_at,
		       1 - (embedding <=> $1) AS score
		FROM %s
		WHERE 1 - (embedding <=> $1) >= $2%s
		ORDER BY embedding <=> $1, id
		LIMIT $3`,
		vs.config.TableName, filterClause)

	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &models.ProviderError{
			Provider:  "pgvector",
			Op:        "search",
			Retryable: models.IsRetryable(err),
			Err:       err,
		}
	}
	defer rows.Close()

	var results []models.RetrievalResult
	for rows.Next() {
		var (
			chunk        models.DocumentChunk
			metadataJSON []byte
			score        float64
		)
		if err := rows.Scan(&chunk.ID, &chunk.SourceID, &chunk.Ordinal, &chunk.Text,
			&metadataJSON, &chunk.IngestedAt, &score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &chunk.Metadata); err != nil {
				vs.logger.Warn("failed to parse chunk metadata", "chunk_id", chunk.ID, "error", err)
			}
		}
		results = append(results, models.RetrievalResult{
			Chunk: chunk,
			Score: float32(score),
			Rank:  len(results) + 1,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search results: %w", err)
	}

	return results, nil
}

// Delete removes chunks by id. Absent ids are a no-op.
func (vs *PgVectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, vs.config.TableName)
	if _, err := vs.pool.Exec(ctx, stmt, ids); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// DeleteBySource removes every chunk of a source and reports how many
// rows went away.
func (vs *PgVectorStore) DeleteBySource(ctx context.Context, sourceID string) (int, error) {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE source_id = $1`, vs.config.TableName)
	tag, err := vs.pool.Exec(ctx, stmt, sourceID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete source %q: %w", sourceID, err)
	}
	return int(tag.RowsAffected()), nil
}

// Count returns the number of stored chunks.
func (vs *PgVectorStore) Count(ctx context.Context) (int, error) {
	var count int
	query := fmt.Sprintf(`SELECT count(*) FROM %s`, vs.config.TableName)
	if err := vs.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

func (vs *PgVectorStore) Ping(ctx context.Context) error {
	return vs.pool.Ping(ctx)
}

func (vs *PgVectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}
