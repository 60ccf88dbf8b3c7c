package embedding

import "context"

// CachedEmbedder wraps an Embedder with an LRU cache keyed by text. Ingestion
// frequently re-embeds identical boilerplate across documents; the cache turns
// those into zero-cost hits without touching the provider's quota.
type CachedEmbedder struct {
	inner Embedder
	cache *EmbeddingCache
}

// NewCachedEmbedder wraps inner with a cache of the given capacity.
func NewCachedEmbedder(inner Embedder, capacity int) *CachedEmbedder {
	return &CachedEmbedder{
		inner: inner,
		cache: NewEmbeddingCache(capacity),
	}
}

// Embed returns a cached embedding when available.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := e.cache.Get(text); ok {
		return vec, nil
	}
	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(text, vec)
	return vec, nil
}

// EmbedBatch serves cache hits locally and forwards only the misses to the
// inner embedder in a single batch, preserving positional alignment.
func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		if vec, ok := e.cache.Get(text); ok {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}
	vecs, err := e.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, vec := range vecs {
		out[missIdx[j]] = vec
		e.cache.Set(missTexts[j], vec)
	}
	return out, nil
}

// Dimensions returns the inner embedder's dimension.
func (e *CachedEmbedder) Dimensions() int { return e.inner.Dimensions() }

// Model returns the inner embedder's model identifier.
func (e *CachedEmbedder) Model() string { return e.inner.Model() }

// Close closes the inner embedder.
func (e *CachedEmbedder) Close() error { return e.inner.Close() }
