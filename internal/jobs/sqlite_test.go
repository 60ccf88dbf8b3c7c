package jobs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hyperjump/kensaku/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestJob(sourcePath string) *models.IngestionJob {
	return &models.IngestionJob{
		JobID:      uuid.New().String(),
		SourcePath: sourcePath,
		Status:     models.JobPending,
		StartedAt:  time.Now(),
	}
}

func TestStore_CreateGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	job := newTestJob("/corpus/book")
	if err := s.Create(ctx, job); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, job.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SourcePath != "/corpus/book" || got.Status != models.JobPending {
		t.Errorf("got %+v", got)
	}
	if got.CompletedAt != nil {
		t.Error("pending job should have nil CompletedAt")
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestStore_UpdateProgress(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	job := newTestJob("/corpus/book")
	_ = s.Create(ctx, job)

	job.Status = models.JobRunning
	job.FilesTotal = 10
	job.FilesProcessed = 3
	job.ChunksCreated = 42
	job.ChunksSkipped = 7
	if err := s.Update(ctx, job); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, job.JobID)
	if got.FilesProcessed != 3 || got.ChunksCreated != 42 || got.ChunksSkipped != 7 {
		t.Errorf("progress not persisted: %+v", got)
	}
}

func TestStore_TerminalJobsAreImmutable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	job := newTestJob("/corpus/book")
	_ = s.Create(ctx, job)
	job.Status = models.JobRunning
	_ = s.Update(ctx, job)

	if err := s.MarkCompleted(ctx, job); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, job.JobID)
	if got.Status != models.JobCompleted || got.CompletedAt == nil {
		t.Errorf("job not completed: %+v", got)
	}

	job.FilesProcessed = 999
	if err := s.Update(ctx, job); err == nil {
		t.Error("updating a terminal job should be rejected")
	}
}

func TestStore_MarkFailed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	job := newTestJob("/corpus/book")
	_ = s.Create(ctx, job)
	job.Status = models.JobRunning
	_ = s.Update(ctx, job)

	if err := s.MarkFailed(ctx, job, "embedding provider quota exhausted"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, job.JobID)
	if got.Status != models.JobFailed {
		t.Errorf("status = %s", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Error("failed job should carry an error message")
	}
}

func TestStore_Latest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	latest, err := s.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest != nil {
		t.Error("empty store should return nil latest job")
	}

	old := newTestJob("/corpus/a")
	old.StartedAt = time.Now().Add(-time.Hour)
	_ = s.Create(ctx, old)
	recent := newTestJob("/corpus/b")
	_ = s.Create(ctx, recent)

	latest, err = s.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || latest.JobID != recent.JobID {
		t.Errorf("Latest returned wrong job: %+v", latest)
	}
}
