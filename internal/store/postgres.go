package store

import (
	"context"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/hyperjump/kensaku/internal/models"
)

// PostgresStore implements VectorStore on Postgres with the pgvector
// extension. Similarity search uses cosine distance over an HNSW index, so
// the store scales past what brute-force search can serve.
type PostgresStore struct {
	pool       *pgxpool.Pool
	dimensions int
	model      string
}

// NewPostgresStore connects to Postgres, verifies the connection, and
// initializes the schema. model is recorded per embedding row so mixed-model
// indexes are detectable.
func NewPostgresStore(ctx context.Context, dsn string, dimensions int, model string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s := &PostgresStore{pool: pool, dimensions: dimensions, model: model}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS chunks (
		content_hash   TEXT PRIMARY KEY,
		content        TEXT NOT NULL,
		source_id      TEXT NOT NULL,
		section_header TEXT NOT NULL DEFAULT '',
		chunk_index    INTEGER NOT NULL,
		token_count    INTEGER NOT NULL,
		is_template    BOOLEAN NOT NULL DEFAULT FALSE,
		model          TEXT NOT NULL,
		embedding      vector(%d) NOT NULL,
		created_at     TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at     TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING hnsw (embedding vector_cosine_ops);
	CREATE INDEX IF NOT EXISTS idx_chunks_source_id ON chunks(source_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_is_template ON chunks(is_template);
	CREATE INDEX IF NOT EXISTS idx_chunks_token_count ON chunks(token_count);
	CREATE INDEX IF NOT EXISTS idx_chunks_created_at ON chunks(created_at);
	`, s.dimensions)
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Upsert inserts or updates a chunk by content hash. Concurrent upserts of
// the same hash are last-write-wins; created_at is preserved on conflict.
func (s *PostgresStore) Upsert(ctx context.Context, chunk *models.Chunk, vector []float32) error {
	if len(vector) != s.dimensions {
		return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vector), s.dimensions)
	}
	query := `
	INSERT INTO chunks (content_hash, content, source_id, section_header, chunk_index,
	                    token_count, is_template, model, embedding, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	ON CONFLICT (content_hash) DO UPDATE SET
		content        = EXCLUDED.content,
		source_id      = EXCLUDED.source_id,
		section_header = EXCLUDED.section_header,
		chunk_index    = EXCLUDED.chunk_index,
		token_count    = EXCLUDED.token_count,
		is_template    = EXCLUDED.is_template,
		model          = EXCLUDED.model,
		embedding      = EXCLUDED.embedding,
		updated_at     = NOW()
	`
	_, err := s.pool.Exec(ctx, query,
		chunk.ContentHash, chunk.Content, chunk.SourceID, chunk.SectionHeader,
		chunk.ChunkIndex, chunk.TokenCount, chunk.IsTemplate, s.model,
		pgvector.NewVector(vector),
	)
	if err != nil {
		return fmt.Errorf("%w: upsert: %v", ErrUnavailable, err)
	}
	return nil
}

// Exists reports whether a chunk with the given content hash is stored.
func (s *PostgresStore) Exists(ctx context.Context, contentHash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM chunks WHERE content_hash = $1)`, contentHash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: exists: %v", ErrUnavailable, err)
	}
	return exists, nil
}

// Search returns up to topK nearest chunks by cosine similarity. Ties are
// broken by content hash so result order is deterministic for a static corpus.
func (s *PostgresStore) Search(ctx context.Context, query []float32, topK int, filters Filters) ([]*Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	sql := `
	SELECT content_hash, content, source_id, section_header, chunk_index,
	       token_count, is_template, created_at, updated_at, embedding,
	       1 - (embedding <=> $1) AS score
	FROM chunks
	WHERE ($2::boolean = FALSE OR is_template = FALSE)
	  AND ($3 = '' OR source_id = $3)
	ORDER BY embedding <=> $1, content_hash
	LIMIT $4
	`
	rows, err := s.pool.Query(ctx, sql,
		pgvector.NewVector(query), filters.ExcludeTemplates, filters.SourceID, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var hits []*Hit
	for rows.Next() {
		var chunk models.Chunk
		var vec pgvector.Vector
		var score float64
		if err := rows.Scan(
			&chunk.ContentHash, &chunk.Content, &chunk.SourceID, &chunk.SectionHeader,
			&chunk.ChunkIndex, &chunk.TokenCount, &chunk.IsTemplate,
			&chunk.CreatedAt, &chunk.UpdatedAt, &vec, &score,
		); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrUnavailable, err)
		}
		hits = append(hits, &Hit{
			Chunk:  &chunk,
			Score:  math.Max(0, math.Min(1, score)),
			Vector: vec.Slice(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", ErrUnavailable, err)
	}
	return hits, nil
}

// Count returns the number of stored chunks.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrUnavailable, err)
	}
	return count, nil
}

// Clear removes all stored chunks (full reindex support).
func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE chunks`); err != nil {
		return fmt.Errorf("%w: clear: %v", ErrUnavailable, err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
