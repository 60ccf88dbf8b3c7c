// Package store provides chunk and embedding persistence with similarity search.
package store

import (
	"context"
	"errors"

	"github.com/hyperjump/kensaku/internal/models"
)

// ErrUnavailable marks a storage backend that cannot be reached. It is a
// distinct failure from a search that returns zero hits, which is a valid,
// non-error outcome.
var ErrUnavailable = errors.New("vector store unavailable")

// Filters restricts a similarity search by chunk metadata.
type Filters struct {
	ExcludeTemplates bool
	SourceID         string
}

// Hit is a single similarity search result. Vector is the stored embedding,
// returned so that callers can run diversification without re-fetching.
type Hit struct {
	Chunk  *models.Chunk
	Score  float64 // cosine similarity in [0,1]
	Vector []float32
}

// VectorStore persists chunks with their embeddings and serves similarity
// search. It is the single owner of durable state: the ingestion pipeline and
// retrieval engine hold none of their own.
//
// Upsert is idempotent by content hash and safe under concurrent calls;
// concurrent writes to the same hash are last-write-wins (content is identical
// by hash construction). Implementations may use approximate nearest-neighbor
// indexes; exact search is acceptable for small corpora.
type VectorStore interface {
	Upsert(ctx context.Context, chunk *models.Chunk, vector []float32) error
	Exists(ctx context.Context, contentHash string) (bool, error)
	Search(ctx context.Context, query []float32, topK int, filters Filters) ([]*Hit, error)
	Count(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
	Close() error
}
