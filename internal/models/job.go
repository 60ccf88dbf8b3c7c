package models

import "time"

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status is a terminal state. A job is immutable
// once terminal; re-ingestion creates a new job.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// IngestionJob tracks one corpus ingestion run.
type IngestionJob struct {
	JobID          string     `json:"job_id" db:"job_id"`
	SourcePath     string     `json:"source_path" db:"source_path"`
	FilesTotal     int        `json:"files_total" db:"files_total"`
	FilesProcessed int        `json:"files_processed" db:"files_processed"`
	ChunksCreated  int        `json:"chunks_created" db:"chunks_created"`
	ChunksSkipped  int        `json:"chunks_skipped" db:"chunks_skipped"`
	Status         JobStatus  `json:"status" db:"status"`
	ErrorMessage   string     `json:"error_message,omitempty" db:"error_message"`
	StartedAt      time.Time  `json:"started_at" db:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// PercentComplete returns ingestion progress in [0,100] based on files processed.
func (j *IngestionJob) PercentComplete() float64 {
	if j.Status == JobCompleted {
		return 100
	}
	if j.FilesTotal <= 0 {
		return 0
	}
	pct := float64(j.FilesProcessed) / float64(j.FilesTotal) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}
