// Package retrieval turns a natural-language query into a ranked, deduplicated,
// optionally diversified set of chunks.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/chunker"
	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/embedding"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/store"
)

// ErrNoContent is returned when the vector store holds no chunks at all, so
// there is nothing to search. A populated corpus where no chunk clears the
// threshold floor is not an error; that query answers with an empty result
// set instead.
var ErrNoContent = errors.New("no content has been ingested")

// ErrEmptyQuery is returned for a blank query string.
var ErrEmptyQuery = errors.New("query must not be empty")

// Engine executes retrieval queries against a vector store. It is stateless
// between queries and safe for concurrent use.
type Engine struct {
	store    store.VectorStore
	embedder embedding.Embedder
	cfg      config.RetrievalConfig
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a logger for query diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a retrieval engine over the given store and embedder.
func NewEngine(vs store.VectorStore, embedder embedding.Embedder, cfg config.RetrievalConfig, opts ...Option) *Engine {
	e := &Engine{
		store:    vs,
		embedder: embedder,
		cfg:      cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve answers a query. The pipeline is: embed the query, over-fetch
// candidates from the store, walk the adaptive threshold schedule until enough
// candidates qualify, drop duplicate content hashes, optionally diversify with
// MMR, truncate to max_results, and assign ranks.
func (e *Engine) Retrieve(ctx context.Context, query string, cfg *models.RetrievalConfig) (*models.RetrievalResponse, error) {
	start := time.Now()
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if cfg == nil {
		cfg = &models.RetrievalConfig{}
	}
	// Fields the caller left unset fall back to the server's configured
	// retrieval defaults; Validate fills anything still zero with the
	// built-in defaults and checks ranges.
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = e.cfg.SimilarityThreshold
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = e.cfg.MaxResults
	}
	if cfg.MMRLambda == 0 {
		cfg.MMRLambda = e.cfg.MMRLambda
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// Per-query template patterns are compiled before any external call so
	// a malformed pattern is rejected as a validation error.
	queryTemplates, err := chunker.CompileTemplatePatterns(cfg.TemplatePatterns)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}

	// An empty store is a distinguishable outcome: nothing has been
	// ingested yet, so there is nothing to search.
	count, err := e.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	if count == 0 {
		return nil, ErrNoContent
	}

	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// Over-fetch so that threshold relaxation, dedup, and MMR all have
	// candidates to work with without a second store round-trip.
	topK := cfg.MaxResults * 3
	if topK < 15 {
		topK = 15
	}
	hits, err := e.store.Search(ctx, queryVec, topK, store.Filters{
		ExcludeTemplates: cfg.TemplatesExcluded(),
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	// The stored is_template flag reflects the patterns active at ingestion
	// time; per-query patterns extend that filter to headers the corpus was
	// not indexed with.
	if cfg.TemplatesExcluded() && len(queryTemplates) > 0 {
		hits = excludeMatchingHeaders(hits, queryTemplates)
	}

	// No candidate clearing even the floor is a normal outcome for a
	// populated corpus: the caller gets an empty result set, not an error.
	threshold, qualified := e.applyThreshold(hits, cfg.SimilarityThreshold)
	if len(qualified) == 0 {
		e.logger.Info("no content cleared threshold floor",
			zap.String("query", query),
			zap.Int("candidates", len(hits)),
			zap.Float64("floor", e.cfg.ThresholdFloor),
		)
		return &models.RetrievalResponse{
			Results:             []*models.RetrievalResult{},
			QueryEmbeddingModel: e.embedder.Model(),
			QueryTime:           time.Since(start).Milliseconds(),
			Query:               query,
		}, nil
	}

	qualified, duplicates := dedupe(qualified)
	for _, d := range duplicates {
		e.logger.Debug("dropped duplicate candidate",
			zap.String("content_hash", d.Chunk.ContentHash),
			zap.String("source_id", d.Chunk.SourceID),
			zap.Float64("score", d.SimilarityScore),
		)
	}

	if cfg.MMREnabled() && len(qualified) > 1 {
		qualified = maximalMarginalRelevance(qualified, cfg.MMRLambda, cfg.MaxResults)
	} else if len(qualified) > cfg.MaxResults {
		qualified = qualified[:cfg.MaxResults]
	}

	results := make([]*models.RetrievalResult, len(qualified))
	for i, h := range qualified {
		results[i] = &models.RetrievalResult{
			Chunk:           h.Chunk,
			SimilarityScore: h.Score,
			Rank:            i + 1,
		}
	}

	e.logger.Debug("query answered",
		zap.String("query", query),
		zap.Int("results", len(results)),
		zap.Float64("effective_threshold", threshold),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &models.RetrievalResponse{
		Results:             results,
		QueryEmbeddingModel: e.embedder.Model(),
		QueryTime:           time.Since(start).Milliseconds(),
		Query:               query,
	}, nil
}

// applyThreshold walks the relaxation schedule: starting at the requested
// threshold, step down until at least min_results candidates qualify or the
// floor is reached. Returns the effective threshold and the candidates that
// cleared it. Hits arrive sorted by score descending, so qualification is a
// prefix.
func (e *Engine) applyThreshold(hits []*store.Hit, threshold float64) (float64, []*store.Hit) {
	floor := e.cfg.ThresholdFloor
	step := e.cfg.ThresholdStep
	if threshold < floor {
		floor = threshold
	}
	for {
		n := 0
		for _, h := range hits {
			if h.Score >= threshold {
				n++
			}
		}
		if n >= e.cfg.MinResults || threshold <= floor {
			return threshold, hits[:n]
		}
		threshold -= step
		if threshold < floor {
			threshold = floor
		}
	}
}

// dedupe keeps the first (highest-ranked) hit per content hash. Input order is
// preserved; later occurrences come back as results flagged is_duplicate,
// excluded from the final sequence but available for diagnostics.
func dedupe(hits []*store.Hit) (kept []*store.Hit, duplicates []*models.RetrievalResult) {
	seen := make(map[string]struct{}, len(hits))
	kept = hits[:0:0]
	for _, h := range hits {
		if _, dup := seen[h.Chunk.ContentHash]; dup {
			duplicates = append(duplicates, &models.RetrievalResult{
				Chunk:           h.Chunk,
				SimilarityScore: h.Score,
				IsDuplicate:     true,
			})
			continue
		}
		seen[h.Chunk.ContentHash] = struct{}{}
		kept = append(kept, h)
	}
	return kept, duplicates
}

// excludeMatchingHeaders drops hits whose trimmed section header matches any
// of the compiled patterns.
func excludeMatchingHeaders(hits []*store.Hit, patterns []*regexp.Regexp) []*store.Hit {
	out := hits[:0:0]
	for _, h := range hits {
		header := strings.TrimSpace(h.Chunk.SectionHeader)
		matched := false
		for _, re := range patterns {
			if re.MatchString(header) {
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, h)
		}
	}
	return out
}

// Health reports the engine's view of the vector store for the health
// endpoint: whether the store answers and how many chunks it holds.
func (e *Engine) Health(ctx context.Context) (connected bool, vectorCount int64) {
	count, err := e.store.Count(ctx)
	if err != nil {
		return false, 0
	}
	return true, count
}

// sortByScore orders hits by score descending with content-hash tie-breaks,
// matching the store ordering contract. Used after diversification to keep
// result ordering deterministic.
func sortByScore(hits []*store.Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ContentHash < hits[j].Chunk.ContentHash
	})
}
