package models

// RetrievalResult is a scored candidate returned from a retrieval query.
// Within a result set, Rank is a strictly increasing sequence starting at 1 and
// SimilarityScore is non-increasing in Rank (ties broken by ContentHash).
type RetrievalResult struct {
	Chunk           *Chunk  `json:"chunk"`
	SimilarityScore float64 `json:"similarity_score"`
	Rank            int     `json:"rank"`
	// IsDuplicate marks a candidate dropped because a higher-ranked result with
	// the same ContentHash already appeared. Such results are never returned to
	// callers, but the flag is kept for diagnostics.
	IsDuplicate bool `json:"is_duplicate,omitempty"`
}

// RetrievalResponse is the query API response.
type RetrievalResponse struct {
	Results             []*RetrievalResult `json:"results"`
	QueryEmbeddingModel string             `json:"query_embedding_model"`
	QueryTime           int64              `json:"query_time_ms"`
	Query               string             `json:"query"`
}
