// Package jobs provides SQLite-backed persistence for ingestion jobs.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kensaku/internal/models"
)

// ErrNotFound is returned when a job id has no record.
var ErrNotFound = errors.New("job not found")

// Store persists ingestion job records. Jobs become immutable once they reach
// a terminal status; re-ingestion always creates a new job.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates a SQLite database at dbPath and initializes the
// schema. Parent directories are created if they do not exist.
func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS ingestion_jobs (
		job_id          TEXT PRIMARY KEY,
		source_path     TEXT NOT NULL,
		files_total     INTEGER NOT NULL DEFAULT 0,
		files_processed INTEGER NOT NULL DEFAULT 0,
		chunks_created  INTEGER NOT NULL DEFAULT 0,
		chunks_skipped  INTEGER NOT NULL DEFAULT 0,
		status          TEXT NOT NULL,
		error_message   TEXT NOT NULL DEFAULT '',
		started_at      TIMESTAMP NOT NULL,
		completed_at    TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_started_at ON ingestion_jobs(started_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Create inserts a new job record.
func (s *Store) Create(ctx context.Context, job *models.IngestionJob) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingestion_jobs (job_id, source_path, files_total, files_processed,
		 chunks_created, chunks_skipped, status, error_message, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.JobID, job.SourcePath, job.FilesTotal, job.FilesProcessed,
		job.ChunksCreated, job.ChunksSkipped, job.Status, job.ErrorMessage,
		job.StartedAt, job.CompletedAt,
	)
	return err
}

// Update writes the current job state. Updating a job that is already in a
// terminal state is rejected.
func (s *Store) Update(ctx context.Context, job *models.IngestionJob) error {
	current, err := s.Get(ctx, job.JobID)
	if err != nil {
		return err
	}
	if current.Status.Terminal() {
		return fmt.Errorf("job %s is terminal (%s) and immutable", job.JobID, current.Status)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE ingestion_jobs SET files_total = ?, files_processed = ?, chunks_created = ?,
		 chunks_skipped = ?, status = ?, error_message = ?, completed_at = ?
		 WHERE job_id = ?`,
		job.FilesTotal, job.FilesProcessed, job.ChunksCreated, job.ChunksSkipped,
		job.Status, job.ErrorMessage, job.CompletedAt, job.JobID,
	)
	return err
}

// Get returns a job by ID.
func (s *Store) Get(ctx context.Context, jobID string) (*models.IngestionJob, error) {
	var job models.IngestionJob
	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id, source_path, files_total, files_processed, chunks_created,
		 chunks_skipped, status, error_message, started_at, completed_at
		 FROM ingestion_jobs WHERE job_id = ?`, jobID,
	).Scan(&job.JobID, &job.SourcePath, &job.FilesTotal, &job.FilesProcessed,
		&job.ChunksCreated, &job.ChunksSkipped, &job.Status, &job.ErrorMessage,
		&job.StartedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

// Latest returns the most recently started job, or nil when none exist.
func (s *Store) Latest(ctx context.Context) (*models.IngestionJob, error) {
	var jobID string
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id FROM ingestion_jobs ORDER BY started_at DESC LIMIT 1`,
	).Scan(&jobID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, jobID)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// nowPtr returns a pointer to the current time; helper for terminal transitions.
func nowPtr() *time.Time {
	t := time.Now()
	return &t
}

// MarkCompleted transitions the job to completed and persists it.
func (s *Store) MarkCompleted(ctx context.Context, job *models.IngestionJob) error {
	job.Status = models.JobCompleted
	job.CompletedAt = nowPtr()
	return s.Update(ctx, job)
}

// MarkFailed transitions the job to failed with the given message and persists it.
func (s *Store) MarkFailed(ctx context.Context, job *models.IngestionJob, msg string) error {
	job.Status = models.JobFailed
	job.ErrorMessage = msg
	job.CompletedAt = nowPtr()
	return s.Update(ctx, job)
}
