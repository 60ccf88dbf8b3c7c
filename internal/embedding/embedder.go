// Package embedding provides text embedding via an external provider, with
// batching, rate limiting, retries, and caching.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Embedder produces vector embeddings for text. Implementations must return
// L2-normalized vectors so that inner product equals cosine similarity.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Model() string
	Close() error
}

// ProviderError is a failure of the embedding provider. Retryable errors
// (rate limits, transient 5xx, transport failures) may be retried by the
// caller; terminal errors (auth, quota) must fail the containing operation.
type ProviderError struct {
	Status    int
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "terminal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("embedding provider error (%s, status %d): %v", kind, e.Status, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a retryable provider error.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}

// IsProviderError reports whether err originated at the embedding provider.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
