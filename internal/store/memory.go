package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/hyperjump/kensaku/internal/models"
)

// MemoryStore is an in-memory vector store using brute-force cosine search.
// Suitable for tests and small corpora; larger deployments use PostgresStore.
type MemoryStore struct {
	dimensions int
	mu         sync.RWMutex
	entries    map[string]*memoryEntry
}

type memoryEntry struct {
	chunk  models.Chunk
	vector []float32
}

// NewMemoryStore creates an in-memory store for vectors of the given dimension.
func NewMemoryStore(dimensions int) (*MemoryStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryStore{
		dimensions: dimensions,
		entries:    make(map[string]*memoryEntry),
	}, nil
}

// Upsert stores the chunk and vector keyed by content hash. Re-inserting an
// existing hash overwrites metadata but preserves the original creation time.
func (m *MemoryStore) Upsert(ctx context.Context, chunk *models.Chunk, vector []float32) error {
	if chunk.ContentHash == "" {
		return fmt.Errorf("chunk has no content hash")
	}
	if len(vector) != m.dimensions {
		return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vector), m.dimensions)
	}
	vec := make([]float32, m.dimensions)
	copy(vec, vector)

	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *chunk
	stored.UpdatedAt = now
	if prev, ok := m.entries[chunk.ContentHash]; ok {
		stored.CreatedAt = prev.chunk.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	m.entries[chunk.ContentHash] = &memoryEntry{chunk: stored, vector: vec}
	return nil
}

// Exists reports whether a chunk with the given content hash is stored.
func (m *MemoryStore) Exists(ctx context.Context, contentHash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[contentHash]
	return ok, nil
}

// Search returns up to topK nearest chunks by cosine similarity, highest
// first, ties broken by content hash for determinism.
func (m *MemoryStore) Search(ctx context.Context, query []float32, topK int, filters Filters) ([]*Hit, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	if topK <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]*Hit, 0, len(m.entries))
	for _, e := range m.entries {
		if filters.ExcludeTemplates && e.chunk.IsTemplate {
			continue
		}
		if filters.SourceID != "" && e.chunk.SourceID != filters.SourceID {
			continue
		}
		var dot float64
		for i := 0; i < m.dimensions; i++ {
			dot += float64(query[i] * e.vector[i])
		}
		score := math.Max(0, math.Min(1, dot))
		chunk := e.chunk
		vec := make([]float32, m.dimensions)
		copy(vec, e.vector)
		hits = append(hits, &Hit{Chunk: &chunk, Score: score, Vector: vec})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ContentHash < hits[j].Chunk.ContentHash
	})
	if topK < len(hits) {
		hits = hits[:topK]
	}
	return hits, nil
}

// Count returns the number of stored chunks.
func (m *MemoryStore) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.entries)), nil
}

// Clear removes all stored chunks (full reindex support).
func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*memoryEntry)
	return nil
}

// Close is a no-op for MemoryStore.
func (m *MemoryStore) Close() error { return nil }
