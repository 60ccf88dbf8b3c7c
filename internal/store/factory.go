package store

import (
	"context"
	"fmt"

	"github.com/hyperjump/kensaku/internal/config"
)

// Backend identifies a vector store implementation.
type Backend string

const (
	// BackendMemory uses in-memory brute-force search. Good for tests and
	// small corpora (<10k vectors).
	BackendMemory Backend = "memory"
	// BackendPostgres uses Postgres with pgvector for ANN search via HNSW.
	BackendPostgres Backend = "postgres"
)

// New creates a vector store for the configured backend.
func New(ctx context.Context, cfg config.StoreConfig, dimensions int, model string) (VectorStore, error) {
	switch Backend(cfg.Backend) {
	case BackendMemory, "":
		return NewMemoryStore(dimensions)
	case BackendPostgres:
		return NewPostgresStore(ctx, cfg.PostgresDSN, dimensions, model)
	default:
		return nil, fmt.Errorf("unknown store backend: %s (supported: memory, postgres)", cfg.Backend)
	}
}
