package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/repolab/repotutor/internal/storage"
	"github.com/repolab/repotutor/pkg/types"
)

// DefaultMaxAttempts is the advisory retry ceiling recorded on new jobs.
// Retries are always explicit; the worker never reschedules on its own.
const DefaultMaxAttempts = 3

// Service manages background job records through their pending → running →
// terminal progression.
type Service struct {
	store storage.Storage
	log   *slog.Logger
}

// New creates a job service.
func New(store storage.Storage, log *slog.Logger) *Service {
	return &Service{store: store, log: log}
}

// Create records a new pending job for a repository.
func (s *Service) Create(ctx context.Context, repoID string, jobType types.JobType) (*types.Job, error) {
	job := &types.Job{
		ID:          uuid.NewString(),
		RepoID:      repoID,
		Type:        jobType,
		Status:      types.JobPending,
		Progress:    0,
		Attempt:     1,
		MaxAttempts: DefaultMaxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create %s job: %w", jobType, err)
	}
	s.log.Info("job created", "job_id", job.ID, "repo_id", repoID, "type", string(jobType))
	return job, nil
}

// Get returns a job by ID.
func (s *Service) Get(ctx context.Context, id string) (*types.Job, error) {
	return s.store.GetJob(ctx, id)
}

// Start moves a pending job to running. Starting a job in any other state
// returns types.ErrJobNotPending.
func (s *Service) Start(ctx context.Context, job *types.Job) error {
	if job.Status != types.JobPending {
		return fmt.Errorf("job %s is %s: %w", job.ID, job.Status, types.ErrJobNotPending)
	}
	now := time.Now().UTC()
	job.Status = types.JobRunning
	job.StartedAt = &now
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}
	return nil
}

// UpdateProgress records progress, clamped to [0, 100]. Progress on a
// terminal job is left untouched.
func (s *Service) UpdateProgress(ctx context.Context, job *types.Job, progress int) error {
	if job.IsTerminal() {
		return nil
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	job.Progress = progress
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

// Complete marks a job completed with progress forced to 100.
func (s *Service) Complete(ctx context.Context, job *types.Job) error {
	now := time.Now().UTC()
	job.Status = types.JobCompleted
	job.Progress = 100
	job.CompletedAt = &now
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	s.log.Info("job completed", "job_id", job.ID, "type", string(job.Type))
	return nil
}

// Fail marks a job failed with a diagnostic message. Progress keeps its
// last recorded value.
func (s *Service) Fail(ctx context.Context, job *types.Job, message string) error {
	now := time.Now().UTC()
	job.Status = types.JobFailed
	job.ErrorMessage = message
	job.CompletedAt = &now
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to record job failure: %w", err)
	}
	s.log.Warn("job failed", "job_id", job.ID, "type", string(job.Type), "error", message)
	return nil
}

// Retry creates a fresh pending job continuing a failed one's attempt
// count. The failed job is left as the historical record.
func (s *Service) Retry(ctx context.Context, failed *types.Job) (*types.Job, error) {
	if failed.Status != types.JobFailed {
		return nil, fmt.Errorf("job %s is %s, only failed jobs can be retried", failed.ID, failed.Status)
	}
	job := &types.Job{
		ID:          uuid.NewString(),
		RepoID:      failed.RepoID,
		Type:        failed.Type,
		Status:      types.JobPending,
		Progress:    0,
		Attempt:     failed.Attempt + 1,
		MaxAttempts: failed.MaxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create retry job: %w", err)
	}
	s.log.Info("job retried", "job_id", job.ID, "previous", failed.ID, "attempt", job.Attempt)
	return job, nil
}

// ListPending returns pending jobs oldest first.
func (s *Service) ListPending(ctx context.Context, limit int) ([]*types.Job, error) {
	return s.store.ListPendingJobs(ctx, limit)
}

// ListForRepo returns a repository's jobs newest first.
func (s *Service) ListForRepo(ctx context.Context, repoID string, limit int) ([]*types.Job, error) {
	return s.store.ListJobsForRepo(ctx, repoID, limit)
}
