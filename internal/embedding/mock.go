package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/hyperjump/kensaku/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests. Unregistered text gets a
// bag-of-words vector built from per-word hash vectors, so identical text
// embeds identically and texts sharing vocabulary land near each other; tests
// that need exact geometry can Register pinned vectors.
type MockEmbedder struct {
	dimensions int
	mu         sync.RWMutex
	fixtures   map[string][]float32
}

// NewMockEmbedder returns an embedder producing deterministic normalized
// embeddings of the given dimension.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 1536
	}
	return &MockEmbedder{
		dimensions: dimensions,
		fixtures:   make(map[string][]float32),
	}
}

// Register pins an exact vector for text. The vector is normalized and its
// length must match the embedder dimension (shorter vectors are zero-padded).
func (e *MockEmbedder) Register(text string, vec []float32) {
	padded := make([]float32, e.dimensions)
	copy(padded, vec)
	utils.NormalizeL2(padded)
	e.mu.Lock()
	e.fixtures[text] = padded
	e.mu.Unlock()
}

// Embed returns the registered vector for text, or a bag-of-words one.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	fixed, ok := e.fixtures[text]
	e.mu.RUnlock()
	if ok {
		out := make([]float32, len(fixed))
		copy(out, fixed)
		return out, nil
	}
	emb := make([]float32, e.dimensions)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := hashText(strings.Trim(word, ".,;:!?\"'()"))
		for i := 0; i < e.dimensions; i++ {
			emb[i] += float32(math.Sin(float64(h * uint64(i+1))))
		}
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int { return e.dimensions }

// Model returns the mock model identifier.
func (e *MockEmbedder) Model() string { return "mock-embedder" }

// Close is a no-op.
func (e *MockEmbedder) Close() error { return nil }

func hashText(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
