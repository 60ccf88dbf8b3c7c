// Package main is the Kensaku CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/chunker"
	"github.com/hyperjump/kensaku/internal/cli"
	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/embedding"
	"github.com/hyperjump/kensaku/internal/extract"
	"github.com/hyperjump/kensaku/internal/ingest"
	"github.com/hyperjump/kensaku/internal/jobs"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/retrieval"
	"github.com/hyperjump/kensaku/internal/server"
	"github.com/hyperjump/kensaku/internal/store"
	"github.com/hyperjump/kensaku/internal/watcher"
	"github.com/hyperjump/kensaku/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kensaku/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used, so that "kensaku server" from the project dir uses the project's
// config. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// .env carries the embedding API key in development; absence is fine.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "query":
		runQuery()
	case "ingest":
		runIngest()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kensaku version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	mock := fs.Bool("mock-embedder", false, "use the deterministic mock embedder (no API key needed)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(context.Background(), cfg, logger, *mock)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Watch.Enabled {
		pipeline := components.Pipeline
		watchSvc := watcher.New(
			cfg.Ingest.ContentRoots,
			cfg.Ingest.Extensions,
			func(path string) {
				ctx := context.Background()
				opts := ingest.Options{ForceReindex: true}
				job, prepErr := pipeline.Prepare(ctx, path, opts)
				if prepErr != nil {
					logger.Warn("watch ingest skipped", zap.String("path", path), zap.Error(prepErr))
					return
				}
				if runErr := pipeline.Run(ctx, job, opts); runErr != nil {
					logger.Warn("watch ingest failed", zap.String("path", path), zap.Error(runErr))
				}
			},
			watcher.WithLogger(logger),
			watcher.WithDebounce(cfg.Watch.Debounce),
		)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
	}

	srv := server.NewServer(
		components.Engine,
		components.Pipeline,
		components.Jobs,
		&cfg.Server,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// queryArgsReorder moves any flags (and their values) that appear after the
// query to the front of the slice so that flag.Parse() sees them. Go's flag
// package stops at the first non-flag argument.
func queryArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", `server URL (empty = run retrieval in-process)`)
	maxResults := fs.Int("max-results", 0, "maximum results to return (default from config)")
	threshold := fs.Float64("threshold", 0, "similarity threshold in [0,1] (default from config)")
	noMMR := fs.Bool("no-mmr", false, "disable diversity re-ranking")
	templates := fs.Bool("templates", false, "include template/boilerplate chunks")
	outputFormat := fs.String("output", "text", "output format: text or json")
	mock := fs.Bool("mock-embedder", false, "use the deterministic mock embedder (in-process mode)")
	_ = fs.Parse(queryArgsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: kensaku query [flags] <question>")
		os.Exit(1)
	}
	queryStr := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if queryStr == "" {
		fmt.Println("Usage: kensaku query [flags] <question>")
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	queryCfg := &models.RetrievalConfig{
		SimilarityThreshold: *threshold,
		MaxResults:          *maxResults,
	}
	if *noMMR {
		f := false
		queryCfg.UseMMR = &f
	}
	if *templates {
		f := false
		queryCfg.ExcludeTemplates = &f
	}

	var response *models.RetrievalResponse
	if *serverURL != "" {
		res, err := queryViaHTTP(*serverURL, queryStr, queryCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
			os.Exit(1)
		}
		response = res
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		components, err := initializeComponents(context.Background(), cfg, logger, *mock)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		response, err = components.Engine.Retrieve(context.Background(), queryStr, queryCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
			os.Exit(1)
		}
	}

	if err := cli.WriteResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func queryViaHTTP(serverURL, query string, cfg *models.RetrievalConfig) (*models.RetrievalResponse, error) {
	payload := map[string]interface{}{
		"query": query,
	}
	if cfg.SimilarityThreshold > 0 {
		payload["similarity_threshold"] = cfg.SimilarityThreshold
	}
	if cfg.MaxResults > 0 {
		payload["max_results"] = cfg.MaxResults
	}
	if cfg.UseMMR != nil {
		payload["use_mmr"] = *cfg.UseMMR
	}
	if cfg.ExcludeTemplates != nil {
		payload["exclude_templates"] = *cfg.ExcludeTemplates
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/query", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response models.RetrievalResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	force := fs.Bool("force", false, "re-embed chunks even if their content hash is already stored")
	mock := fs.Bool("mock-embedder", false, "use the deterministic mock embedder")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kensaku ingest [flags] <file-or-directory>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(context.Background(), cfg, logger, *mock)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	opts := ingest.Options{ForceReindex: *force}
	job, err := components.Pipeline.Prepare(ctx, path, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingestion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Ingesting %d file(s) from %s (job %s)\n", job.FilesTotal, job.SourcePath, job.JobID)
	if err := components.Pipeline.Run(ctx, job, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Ingestion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Done: %d file(s) processed, %d chunk(s) created, %d skipped\n",
		job.FilesProcessed, job.ChunksCreated, job.ChunksSkipped)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "json":
		fmt.Println(string(body))
	case "text":
		var health struct {
			Status      string `json:"status"`
			VectorStore struct {
				Connected   bool  `json:"connected"`
				VectorCount int64 `json:"vector_count"`
			} `json:"vector_store"`
			LastIngestion *struct {
				JobID  string `json:"job_id"`
				Status string `json:"status"`
			} `json:"last_ingestion"`
		}
		if err := json.Unmarshal(body, &health); err != nil {
			fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("status:        %s\n", health.Status)
		fmt.Printf("connected:     %t\n", health.VectorStore.Connected)
		fmt.Printf("vector_count:  %d\n", health.VectorStore.VectorCount)
		if health.LastIngestion != nil {
			fmt.Printf("last_job:      %s (%s)\n", health.LastIngestion.JobID, health.LastIngestion.Status)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

// Components holds initialized services.
type Components struct {
	Store    store.VectorStore
	Embedder embedding.Embedder
	Jobs     *jobs.Store
	Pipeline *ingest.Pipeline
	Engine   *retrieval.Engine
}

func (c *Components) Close() {
	if c.Jobs != nil {
		_ = c.Jobs.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, mockEmbedder bool) (*Components, error) {
	var embedder embedding.Embedder
	if mockEmbedder {
		embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	} else {
		client, err := embedding.NewClient(cfg.Embedding)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		embedder = client
	}
	if cfg.Embedding.CacheSize > 0 {
		embedder = embedding.NewCachedEmbedder(embedder, cfg.Embedding.CacheSize)
	}

	vs, err := store.New(ctx, cfg.Store, cfg.Embedding.Dimensions, cfg.Embedding.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	ch, err := chunker.New(cfg.Chunking, cfg.Embedding.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chunker: %w", err)
	}

	jobStore, err := jobs.NewStore(cfg.Jobs.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize job store: %w", err)
	}

	pipeline := ingest.NewPipeline(vs, embedder, ch, jobStore, extract.NewExtractor(), cfg.Ingest,
		ingest.WithLogger(logger))
	engine := retrieval.NewEngine(vs, embedder, cfg.Retrieval,
		retrieval.WithLogger(logger))

	return &Components{
		Store:    vs,
		Embedder: embedder,
		Jobs:     jobStore,
		Pipeline: pipeline,
		Engine:   engine,
	}, nil
}

func printUsage() {
	fmt.Println(`kensaku - Retrieval service for grounded question answering

Usage:
  kensaku server [flags]            Start the HTTP server
  kensaku query [flags] <question>  Retrieve relevant chunks for a question
  kensaku ingest [flags] <path>     Ingest a file or directory into the store
  kensaku status [flags]            Show server health and store status
  kensaku version                   Show version
  kensaku help                      Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kensaku/config.yaml)
  --debug            Enable debug logging
  --mock-embedder    Use the deterministic mock embedder (no API key needed)

Query Flags:
  --server string       Server URL (default: http://localhost:8080). Use empty (--server "") to run in-process.
  --config string       Config file path (for in-process mode)
  --max-results int     Maximum results (default from config)
  --threshold float     Similarity threshold in [0,1] (default from config)
  --no-mmr              Disable diversity re-ranking
  --templates           Include template/boilerplate chunks
  --output string       Output format: text or json (default: text)

Ingest Flags:
  --config string    Config file path
  --force            Re-embed chunks even if already stored

Status Flags:
  --server string    Server URL (default: http://localhost:8080)
  --output string    Output format: text or json (default: text)

Examples:
  kensaku server
  kensaku ingest ./content/books
  kensaku query "What is Physical AI?"
  kensaku query --max-results 3 --no-mmr "sensor fusion"
  kensaku status --output json`)
}
