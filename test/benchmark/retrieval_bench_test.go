// Package benchmark measures vector search and retrieval throughput with an
// in-memory store.
package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/embedding"
	"github.com/hyperjump/kensaku/internal/fingerprint"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/retrieval"
	"github.com/hyperjump/kensaku/internal/store"
)

const benchDims = 256

func seedStore(b *testing.B, n int) (*store.MemoryStore, *embedding.MockEmbedder) {
	b.Helper()
	vs, err := store.NewMemoryStore(benchDims)
	if err != nil {
		b.Fatal(err)
	}
	emb := embedding.NewMockEmbedder(benchDims)
	ctx := context.Background()
	for i := 0; i < n; i++ {
		content := fmt.Sprintf("chunk %d discusses topic %d in some depth with varied wording", i, i%37)
		vec, err := emb.Embed(ctx, content)
		if err != nil {
			b.Fatal(err)
		}
		chunk := &models.Chunk{
			Content:     content,
			ContentHash: fingerprint.Hash(content),
			SourceID:    fmt.Sprintf("doc-%d.md", i/50),
			TokenCount:  12,
		}
		if err := vs.Upsert(ctx, chunk, vec); err != nil {
			b.Fatal(err)
		}
	}
	return vs, emb
}

func BenchmarkMemoryStoreSearch(b *testing.B) {
	for _, n := range []int{1000, 10000} {
		b.Run(fmt.Sprintf("corpus_%d", n), func(b *testing.B) {
			vs, emb := seedStore(b, n)
			query, err := emb.Embed(context.Background(), "topic 5 in depth")
			if err != nil {
				b.Fatal(err)
			}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := vs.Search(context.Background(), query, 15, store.Filters{}); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkRetrieve(b *testing.B) {
	vs, emb := seedStore(b, 5000)
	engine := retrieval.NewEngine(vs, emb, config.RetrievalConfig{
		SimilarityThreshold: 0.1,
		MaxResults:          5,
		MMRLambda:           0.5,
		MinResults:          3,
		ThresholdFloor:      0.05,
		ThresholdStep:       0.05,
	})
	cfg := &models.RetrievalConfig{SimilarityThreshold: 0.1}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Retrieve(context.Background(), "topic 5 in depth", cfg); err != nil {
			b.Fatal(err)
		}
	}
}
