// Package models defines core data structures for chunks, retrieval results, and ingestion jobs.
package models

import "time"

// Chunk is a contiguous span of source text prepared for embedding and retrieval.
// ContentHash is a pure function of Content and serves as the deduplication key:
// two chunks with equal ContentHash are duplicates regardless of SourceID.
type Chunk struct {
	Content       string    `json:"content" db:"content"`
	ContentHash   string    `json:"content_hash" db:"content_hash"`
	SourceID      string    `json:"source_id" db:"source_id"`
	SectionHeader string    `json:"section_header,omitempty" db:"section_header"`
	ChunkIndex    int       `json:"chunk_index" db:"chunk_index"`
	TokenCount    int       `json:"token_count" db:"token_count"`
	IsTemplate    bool      `json:"is_template" db:"is_template"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}
