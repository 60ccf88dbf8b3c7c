package config

import "time"

// DefaultTemplatePatterns matches boilerplate section headers common to book
// corpora. Patterns are matched case-insensitively against the trimmed section
// header; corpora can replace the list in config without code changes.
var DefaultTemplatePatterns = []string{
	`how to use this book`,
	`table of contents`,
	`^foreword$`,
	`^preface$`,
	`^copyright`,
	`^acknowledg(e)?ments$`,
	`about the author`,
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Jobs.DatabasePath == "" {
		cfg.Jobs.DatabasePath = "/usr/local/var/kensaku/data/db/jobs.db"
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1536
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Embedding.RequestsPerMinute == 0 {
		cfg.Embedding.RequestsPerMinute = 500
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = 600
	}
	if cfg.Chunking.ChunkOverlap == 0 {
		cfg.Chunking.ChunkOverlap = 100
	}
	if cfg.Chunking.MinChunkTokens == 0 {
		cfg.Chunking.MinChunkTokens = 50
	}
	if cfg.Chunking.TemplatePatterns == nil {
		cfg.Chunking.TemplatePatterns = DefaultTemplatePatterns
	}
	if cfg.Retrieval.SimilarityThreshold == 0 {
		cfg.Retrieval.SimilarityThreshold = 0.7
	}
	if cfg.Retrieval.MaxResults == 0 {
		cfg.Retrieval.MaxResults = 5
	}
	if cfg.Retrieval.MMRLambda == 0 {
		cfg.Retrieval.MMRLambda = 0.5
	}
	if cfg.Retrieval.MinResults == 0 {
		cfg.Retrieval.MinResults = 3
	}
	if cfg.Retrieval.ThresholdFloor == 0 {
		cfg.Retrieval.ThresholdFloor = 0.3
	}
	if cfg.Retrieval.ThresholdStep == 0 {
		cfg.Retrieval.ThresholdStep = 0.1
	}
	if cfg.Ingest.Extensions == nil {
		cfg.Ingest.Extensions = []string{".md", ".txt", ".rst", ".pdf"}
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 400 * time.Millisecond
	}
}
