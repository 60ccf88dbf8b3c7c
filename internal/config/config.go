// Package config provides configuration loading and structs for the Kensaku server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StoreConfig holds vector store settings.
// Backend is "memory" (brute-force, small corpora) or "postgres" (pgvector with an HNSW index).
type StoreConfig struct {
	Backend     string `yaml:"backend"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// JobsConfig holds the ingestion job registry settings.
type JobsConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	Dimensions        int           `yaml:"dimensions"`
	BatchSize         int           `yaml:"batch_size"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	MaxRetries        int           `yaml:"max_retries"`
	Timeout           time.Duration `yaml:"timeout"`
	CacheSize         int           `yaml:"cache_size"`
}

// ChunkingConfig holds token-aware chunking settings. Sizes are in tokens of
// the embedding model's tokenizer, not characters.
type ChunkingConfig struct {
	ChunkSize        int      `yaml:"chunk_size"`
	ChunkOverlap     int      `yaml:"chunk_overlap"`
	MinChunkTokens   int      `yaml:"min_chunk_tokens"`
	TemplatePatterns []string `yaml:"template_patterns"`
}

// RetrievalConfig holds server-side retrieval defaults and the adaptive
// threshold schedule.
type RetrievalConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MaxResults          int     `yaml:"max_results"`
	MMRLambda           float64 `yaml:"mmr_lambda"`
	MinResults          int     `yaml:"min_results"`
	ThresholdFloor      float64 `yaml:"threshold_floor"`
	ThresholdStep       float64 `yaml:"threshold_step"`
}

// IngestConfig holds ingestion settings. ContentRoots is the allow-list of
// directories ingestion is permitted to read; paths outside it are rejected.
type IngestConfig struct {
	ContentRoots []string `yaml:"content_roots"`
	Extensions   []string `yaml:"extensions"`
	Workers      int      `yaml:"workers"`
}

// WatchConfig holds content-root watch settings.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Jobs.DatabasePath = expandPath(cfg.Jobs.DatabasePath, configDir)
	for i := range cfg.Ingest.ContentRoots {
		cfg.Ingest.ContentRoots[i] = expandPath(cfg.Ingest.ContentRoots[i], configDir)
	}

	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
