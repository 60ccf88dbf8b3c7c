package store

import (
	"context"
	"testing"

	"github.com/hyperjump/kensaku/internal/models"
)

func chunkFixture(hash, sourceID string, template bool) *models.Chunk {
	return &models.Chunk{
		Content:     "content for " + hash,
		ContentHash: hash,
		SourceID:    sourceID,
		IsTemplate:  template,
		TokenCount:  10,
	}
}

func TestMemoryStore_UpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	m, err := NewMemoryStore(3)
	if err != nil {
		t.Fatal(err)
	}
	ch := chunkFixture("h1", "doc.md", false)
	if err := m.Upsert(ctx, ch, []float32{1, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := m.Upsert(ctx, ch, []float32{1, 0, 0}); err != nil {
		t.Fatal(err)
	}
	n, _ := m.Count(ctx)
	if n != 1 {
		t.Errorf("re-upserting same hash should not grow the store: count=%d", n)
	}
	ok, _ := m.Exists(ctx, "h1")
	if !ok {
		t.Error("Exists should report stored hash")
	}
	ok, _ = m.Exists(ctx, "h2")
	if ok {
		t.Error("Exists should not report unknown hash")
	}
}

func TestMemoryStore_UpsertValidation(t *testing.T) {
	ctx := context.Background()
	m, _ := NewMemoryStore(3)
	if err := m.Upsert(ctx, chunkFixture("h", "d", false), []float32{1, 0}); err == nil {
		t.Error("expected dimension mismatch error")
	}
	if err := m.Upsert(ctx, &models.Chunk{}, []float32{1, 0, 0}); err == nil {
		t.Error("expected error for chunk without hash")
	}
	if _, err := NewMemoryStore(0); err == nil {
		t.Error("expected error for non-positive dimensions")
	}
}

func TestMemoryStore_SearchOrdering(t *testing.T) {
	ctx := context.Background()
	m, _ := NewMemoryStore(3)
	_ = m.Upsert(ctx, chunkFixture("a", "d", false), []float32{1, 0, 0})
	_ = m.Upsert(ctx, chunkFixture("b", "d", false), []float32{0.9, 0.1, 0})
	_ = m.Upsert(ctx, chunkFixture("c", "d", false), []float32{0, 1, 0})

	hits, err := m.Search(ctx, []float32{1, 0, 0}, 10, Filters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	if hits[0].Chunk.ContentHash != "a" {
		t.Errorf("top hit should be a, got %s", hits[0].Chunk.ContentHash)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("scores must be non-increasing: %v then %v", hits[i-1].Score, hits[i].Score)
		}
	}
	if len(hits[0].Vector) != 3 {
		t.Error("hits should carry the stored vector")
	}
}

func TestMemoryStore_SearchTieBreak(t *testing.T) {
	ctx := context.Background()
	m, _ := NewMemoryStore(2)
	// Two identical vectors with different hashes: order must be by hash.
	_ = m.Upsert(ctx, chunkFixture("zzz", "d", false), []float32{1, 0})
	_ = m.Upsert(ctx, chunkFixture("aaa", "d", false), []float32{1, 0})

	hits, _ := m.Search(ctx, []float32{1, 0}, 2, Filters{})
	if hits[0].Chunk.ContentHash != "aaa" || hits[1].Chunk.ContentHash != "zzz" {
		t.Errorf("equal scores should order by hash: got %s, %s",
			hits[0].Chunk.ContentHash, hits[1].Chunk.ContentHash)
	}
}

func TestMemoryStore_SearchFilters(t *testing.T) {
	ctx := context.Background()
	m, _ := NewMemoryStore(2)
	_ = m.Upsert(ctx, chunkFixture("t1", "a.md", true), []float32{1, 0})
	_ = m.Upsert(ctx, chunkFixture("n1", "b.md", false), []float32{1, 0})

	hits, _ := m.Search(ctx, []float32{1, 0}, 10, Filters{ExcludeTemplates: true})
	if len(hits) != 1 || hits[0].Chunk.ContentHash != "n1" {
		t.Errorf("template filter failed: %v", hits)
	}
	hits, _ = m.Search(ctx, []float32{1, 0}, 10, Filters{SourceID: "a.md"})
	if len(hits) != 1 || hits[0].Chunk.ContentHash != "t1" {
		t.Errorf("source filter failed: %v", hits)
	}
}

func TestMemoryStore_SearchEmpty(t *testing.T) {
	ctx := context.Background()
	m, _ := NewMemoryStore(2)
	hits, err := m.Search(ctx, []float32{1, 0}, 5, Filters{})
	if err != nil {
		t.Fatalf("empty store search should not error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected zero hits, got %d", len(hits))
	}
}

func TestMemoryStore_Clear(t *testing.T) {
	ctx := context.Background()
	m, _ := NewMemoryStore(2)
	_ = m.Upsert(ctx, chunkFixture("x", "d", false), []float32{1, 0})
	if err := m.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	n, _ := m.Count(ctx)
	if n != 0 {
		t.Errorf("count after clear = %d", n)
	}
}

func TestMemoryStore_PreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	m, _ := NewMemoryStore(2)
	ch := chunkFixture("h", "d", false)
	_ = m.Upsert(ctx, ch, []float32{1, 0})
	hits, _ := m.Search(ctx, []float32{1, 0}, 1, Filters{})
	created := hits[0].Chunk.CreatedAt

	_ = m.Upsert(ctx, ch, []float32{0, 1})
	hits, _ = m.Search(ctx, []float32{0, 1}, 1, Filters{})
	if !hits[0].Chunk.CreatedAt.Equal(created) {
		t.Error("re-upsert should preserve original CreatedAt")
	}
	if hits[0].Chunk.UpdatedAt.Before(created) {
		t.Error("UpdatedAt should advance on re-upsert")
	}
}
