// Package ingest orchestrates chunking, fingerprint deduplication, embedding,
// and vector storage for corpus ingestion runs.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kensaku/internal/chunker"
	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/embedding"
	"github.com/hyperjump/kensaku/internal/extract"
	"github.com/hyperjump/kensaku/internal/jobs"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/store"
)

// ErrPathNotAllowed is returned when a source path resolves outside the
// configured content roots. Ingestion never walks arbitrary filesystem paths.
var ErrPathNotAllowed = errors.New("source path outside permitted content roots")

// ErrNoFiles is returned when the source path contains no ingestible files.
var ErrNoFiles = errors.New("no content files found")

// ErrInvalidOptions is returned when per-run overrides fail to compile or
// validate. Rejected before a job is created.
var ErrInvalidOptions = errors.New("invalid ingestion options")

// ChunkingOverrides narrow one run's chunking behavior without touching the
// server-wide configuration. Zero and nil fields keep the configured values.
type ChunkingOverrides struct {
	ChunkSize        int
	ChunkOverlap     int
	TemplatePatterns []string
	// ExcludePatterns are regexes matched case-insensitively against each
	// file path relative to the source path; matching files are not ingested.
	ExcludePatterns []string
}

// Options control one ingestion run.
type Options struct {
	// ForceReindex re-embeds and overwrites chunks whose content hash is
	// already stored.
	ForceReindex bool
	// IndexTemplates stores chunks that matched a template pattern instead of
	// skipping them.
	IndexTemplates bool
	// Chunking, when set, applies per-run chunking and file-exclusion
	// overrides.
	Chunking *ChunkingOverrides
}

// Pipeline runs corpus ingestion. It holds no persistent state of its own:
// chunks live in the vector store and job records in the job store.
type Pipeline struct {
	store     store.VectorStore
	embedder  embedding.Embedder
	chunker   *chunker.Chunker
	jobs      *jobs.Store
	extractor *extract.Extractor
	cfg       config.IngestConfig
	logger    *zap.Logger

	mu sync.Mutex // serializes job progress updates
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets a logger for per-document progress and failure events.
func WithLogger(l *zap.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates an ingestion pipeline with the given dependencies.
func NewPipeline(
	vs store.VectorStore,
	embedder embedding.Embedder,
	ch *chunker.Chunker,
	jobStore *jobs.Store,
	extractor *extract.Extractor,
	cfg config.IngestConfig,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		store:     vs,
		embedder:  embedder,
		chunker:   ch,
		jobs:      jobStore,
		extractor: extractor,
		cfg:       cfg,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Prepare validates sourcePath against the content-root allow-list and the
// run options, counts the ingestible files, and creates a pending job. The
// job is executed by Run (or Start for fire-and-forget).
func (p *Pipeline) Prepare(ctx context.Context, sourcePath string, opts Options) (*models.IngestionJob, error) {
	absPath, err := p.validatePath(sourcePath)
	if err != nil {
		return nil, err
	}
	run, err := p.resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	files, err := p.listFiles(absPath, run.exclude)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoFiles, absPath)
	}
	job := &models.IngestionJob{
		JobID:      uuid.New().String(),
		SourcePath: absPath,
		FilesTotal: len(files),
		Status:     models.JobPending,
		StartedAt:  time.Now(),
	}
	if err := p.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// Run executes a prepared job to completion: pending → running → completed or
// failed. Per-document failures are contained (logged and counted, the job
// continues); terminal provider failures and store failures that threaten
// data integrity abort the job. Cancellation is cooperative and checked
// between documents, since a document is the unit of retry/skip logic.
func (p *Pipeline) Run(ctx context.Context, job *models.IngestionJob, opts Options) error {
	run, err := p.resolveOptions(opts)
	if err != nil {
		_ = p.jobs.MarkFailed(ctx, job, err.Error())
		return err
	}
	files, err := p.listFiles(job.SourcePath, run.exclude)
	if err != nil {
		_ = p.jobs.MarkFailed(ctx, job, err.Error())
		return err
	}

	job.Status = models.JobRunning
	if err := p.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	p.logger.Info("ingestion started",
		zap.String("job_id", job.JobID),
		zap.String("source_path", job.SourcePath),
		zap.Int("files", len(files)),
		zap.Bool("force_reindex", opts.ForceReindex),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for _, file := range files {
		file := file
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			created, skipped, docErr := p.processDocument(gctx, run.chunker, file, opts)
			if docErr != nil && isFatal(docErr) {
				return docErr
			}
			if docErr != nil {
				// Contained: the document's chunks are excluded but the job
				// continues and files_processed still counts the file.
				p.logger.Warn("document ingestion failed",
					zap.String("job_id", job.JobID),
					zap.String("path", file),
					zap.Error(docErr),
				)
			}
			p.recordProgress(ctx, job, created, skipped)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.logger.Error("ingestion failed",
			zap.String("job_id", job.JobID),
			zap.Error(err),
		)
		_ = p.jobs.MarkFailed(ctx, job, err.Error())
		return err
	}
	if err := p.jobs.MarkCompleted(ctx, job); err != nil {
		return err
	}
	p.logger.Info("ingestion completed",
		zap.String("job_id", job.JobID),
		zap.Int("files_processed", job.FilesProcessed),
		zap.Int("chunks_created", job.ChunksCreated),
		zap.Int("chunks_skipped", job.ChunksSkipped),
	)
	return nil
}

// Start runs the job on a background goroutine, detached from the caller's
// request context. Used by the HTTP API, which returns the pending job and
// lets clients poll its status.
func (p *Pipeline) Start(job *models.IngestionJob, opts Options) {
	go func() {
		_ = p.Run(context.Background(), job, opts)
	}()
}

func (p *Pipeline) recordProgress(ctx context.Context, job *models.IngestionJob, created, skipped int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	job.FilesProcessed++
	job.ChunksCreated += created
	job.ChunksSkipped += skipped
	if err := p.jobs.Update(ctx, job); err != nil {
		p.logger.Warn("failed to persist job progress", zap.String("job_id", job.JobID), zap.Error(err))
	}
}

// runState holds the per-run chunker and file exclusions resolved from Options.
type runState struct {
	chunker *chunker.Chunker
	exclude []*regexp.Regexp
}

// resolveOptions validates per-run overrides and derives the chunker and
// exclusion set for one run. Invalid overrides wrap ErrInvalidOptions.
func (p *Pipeline) resolveOptions(opts Options) (*runState, error) {
	run := &runState{chunker: p.chunker}
	if opts.Chunking == nil {
		return run, nil
	}
	ch, err := p.chunker.Derive(opts.Chunking.ChunkSize, opts.Chunking.ChunkOverlap, opts.Chunking.TemplatePatterns)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	run.chunker = ch
	for _, pattern := range opts.Chunking.ExcludePatterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: exclude pattern %q: %v", ErrInvalidOptions, pattern, err)
		}
		run.exclude = append(run.exclude, re)
	}
	return run, nil
}

// processDocument ingests one file: extract → chunk → dedup-check → embed →
// upsert. Returns the number of chunks created and skipped.
func (p *Pipeline) processDocument(ctx context.Context, ch *chunker.Chunker, path string, opts Options) (created, skipped int, err error) {
	text, err := p.extractor.Extract(path)
	if err != nil {
		return 0, 0, fmt.Errorf("extract %s: %w", path, err)
	}
	chunks, err := ch.Chunk(text, path)
	if err != nil {
		return 0, 0, fmt.Errorf("chunk %s: %w", path, err)
	}

	var toEmbed []*models.Chunk
	for _, ch := range chunks {
		if ch.IsTemplate && !opts.IndexTemplates {
			skipped++
			continue
		}
		if !opts.ForceReindex {
			exists, existsErr := p.store.Exists(ctx, ch.ContentHash)
			if existsErr != nil {
				return created, skipped, existsErr
			}
			if exists {
				// Already indexed, possibly by another document with
				// identical content. First-seen chunk is authoritative.
				skipped++
				continue
			}
		}
		toEmbed = append(toEmbed, ch)
	}
	if len(toEmbed) == 0 {
		return 0, skipped, nil
	}

	texts := make([]string, len(toEmbed))
	for i, ch := range toEmbed {
		texts[i] = ch.Content
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return created, skipped, fmt.Errorf("embed %s: %w", path, err)
	}
	for i, ch := range toEmbed {
		if err := p.store.Upsert(ctx, ch, vectors[i]); err != nil {
			return created, skipped, fmt.Errorf("upsert %s: %w", path, err)
		}
		created++
	}
	p.logger.Debug("document ingested",
		zap.String("path", path),
		zap.Int("chunks_created", created),
		zap.Int("chunks_skipped", skipped),
	)
	return created, skipped, nil
}

func excluded(relPath string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(relPath) {
			return true
		}
	}
	return false
}

// isFatal reports whether a document error must abort the whole job: terminal
// provider errors (auth, quota) and store failures that leave upsert state
// unconfirmed.
func isFatal(err error) bool {
	if embedding.IsProviderError(err) && !embedding.IsRetryable(err) {
		return true
	}
	return errors.Is(err, store.ErrUnavailable)
}

// validatePath resolves sourcePath and checks it against the content-root
// allow-list.
func (p *Pipeline) validatePath(sourcePath string) (string, error) {
	if len(p.cfg.ContentRoots) == 0 {
		return "", fmt.Errorf("%w: no content roots configured", ErrPathNotAllowed)
	}
	absPath, err := filepath.Abs(sourcePath)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	absPath = filepath.Clean(absPath)
	for _, root := range p.cfg.ContentRoots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absRoot, absPath)
		if err != nil {
			continue
		}
		if rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)) {
			return absPath, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrPathNotAllowed, absPath)
}

// listFiles returns the ingestible regular files under path (or path itself),
// filtered by the configured extensions and the run's exclusion patterns,
// sorted for determinism. Exclusions match against the path relative to the
// source path.
func (p *Pipeline) listFiles(path string, exclude []*regexp.Regexp) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat source path: %w", err)
	}
	if info.Mode().IsRegular() {
		if p.extensionAllowed(filepath.Ext(path)) && !excluded(filepath.Base(path), exclude) {
			return []string{path}, nil
		}
		return nil, nil
	}
	var files []string
	err = filepath.WalkDir(path, func(fp string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && fp != path {
				return filepath.SkipDir
			}
			return nil
		}
		finfo, statErr := os.Stat(fp)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		rel, relErr := filepath.Rel(path, fp)
		if relErr != nil {
			rel = fp
		}
		if p.extensionAllowed(filepath.Ext(fp)) && !excluded(filepath.ToSlash(rel), exclude) {
			files = append(files, fp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (p *Pipeline) extensionAllowed(ext string) bool {
	ext = strings.ToLower(ext)
	for _, a := range p.cfg.Extensions {
		if strings.ToLower(a) == ext {
			return true
		}
	}
	return false
}
