package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/pkg/utils"
)

// Client is an OpenAI-compatible embeddings client. It batches inputs up to
// the provider's batch limit, throttles requests with a token bucket matching
// the provider's per-minute quota, and retries retryable failures with
// exponential backoff before giving up.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	batchSize  int
	maxRetries int
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates an embeddings client from config. The API key is read
// from the environment variable named by cfg.APIKeyEnv; a missing key is a
// startup error, not a per-request one.
func NewClient(cfg config.EmbeddingConfig) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	rps := float64(cfg.RequestsPerMinute) / 60.0
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     key,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}, nil
}

// Model returns the embedding model identifier.
func (c *Client) Model() string { return c.model }

// Dimensions returns the configured embedding dimension.
func (c *Client) Dimensions() int { return c.dimensions }

// Close is a no-op; the underlying HTTP client needs no teardown.
func (c *Client) Close() error { return nil }

// Embed returns the embedding for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts, grouping them into requests of at most the batch
// limit. Returned vectors are L2-normalized and positionally aligned with texts.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := c.embedRequest(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// embedRequest performs one provider call with bounded retries. Rate-limit
// rejections and transient failures back off exponentially; auth and quota
// failures are terminal on the first attempt.
func (c *Client) embedRequest(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		vecs, retryAfter, err := c.doRequest(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == c.maxRetries {
			return nil, err
		}
		delay := retryDelay(attempt)
		if retryAfter > 0 {
			delay = retryAfter
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

func (c *Client) doRequest(ctx context.Context, texts []string) ([][]float32, time.Duration, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &ProviderError{Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		drainBody(resp.Body)
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")), &ProviderError{
			Status:    resp.StatusCode,
			Retryable: true,
			Err:       fmt.Errorf("embeddings request failed: %s", resp.Status),
		}
	default:
		// 401/403/4xx: bad credentials, exhausted quota, malformed input.
		// Retrying cannot help.
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, 0, &ProviderError{
			Status:    resp.StatusCode,
			Retryable: false,
			Err:       fmt.Errorf("embeddings request failed: %s: %s", resp.Status, payload),
		}
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, 0, &ProviderError{Retryable: true, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(out.Data) != len(texts) {
		return nil, 0, &ProviderError{Retryable: false, Err: fmt.Errorf("expected %d embeddings, got %d", len(texts), len(out.Data))}
	}
	// The provider may return entries out of order; align by index.
	sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })

	vecs := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		if c.dimensions > 0 && len(d.Embedding) != c.dimensions {
			return nil, 0, &ProviderError{Retryable: false, Err: fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(d.Embedding), c.dimensions)}
		}
		utils.NormalizeL2(d.Embedding)
		vecs[i] = d.Embedding
	}
	return vecs, 0, nil
}

func drainBody(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 4096))
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// retryDelay returns exponential backoff capped at 5s.
func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
