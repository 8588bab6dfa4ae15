package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/repolab/repotutor/internal/chunker"
	"github.com/repolab/repotutor/internal/config"
	"github.com/repolab/repotutor/internal/fetcher"
	"github.com/repolab/repotutor/internal/jobs"
	"github.com/repolab/repotutor/internal/lifecycle"
	"github.com/repolab/repotutor/internal/storage"
	"github.com/repolab/repotutor/internal/vectorindex"
	"github.com/repolab/repotutor/pkg/types"
)

// Fetcher is the clone surface the pipeline depends on. *fetcher.Fetcher
// satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, src *fetcher.Source, repoID string) (string, string, error)
	Delete(repoID string) error
}

// Service registers repositories and runs the ingest pipeline: clone,
// size guard, and structure analysis.
type Service struct {
	store      storage.Storage
	lifecycle  *lifecycle.Service
	jobs       *jobs.Service
	fetcher    Fetcher
	indexStore *vectorindex.Store
	cfg        *config.Config
	log        *slog.Logger
}

// New creates an ingest service.
func New(store storage.Storage, lc *lifecycle.Service, jobSvc *jobs.Service,
	f Fetcher, indexStore *vectorindex.Store, cfg *config.Config, log *slog.Logger) *Service {
	return &Service{
		store:      store,
		lifecycle:  lc,
		jobs:       jobSvc,
		fetcher:    f,
		indexStore: indexStore,
		cfg:        cfg,
		log:        log,
	}
}

// Ingest registers a repository and queues an ingest job. Re-ingesting a
// known URL without force is idempotent: the existing record and its most
// recent ingest job are returned unchanged. With force, derived data is
// discarded and the pipeline restarts from the beginning.
func (s *Service) Ingest(ctx context.Context, rawURL string, force bool) (*types.Repository, *types.Job, error) {
	src, err := fetcher.ParseSourceURL(rawURL)
	if err != nil {
		return nil, nil, err
	}

	existing, err := s.store.GetRepositoryByURL(ctx, src.CloneURL)
	switch {
	case err == nil:
		if !force {
			job, jobErr := s.store.LatestJobForRepo(ctx, existing.ID, types.JobIngest)
			if jobErr != nil && !errors.Is(jobErr, types.ErrNotFound) {
				return nil, nil, jobErr
			}
			return existing, job, nil
		}
		return s.reingest(ctx, existing)
	case errors.Is(err, types.ErrNotFound):
		// fall through to fresh registration
	default:
		return nil, nil, err
	}

	repo := &types.Repository{
		ID:      uuid.NewString(),
		RepoURL: src.CloneURL,
		Owner:   src.Owner,
		Name:    src.Name,
		Status:  types.StatusCreated,
	}
	if err := s.store.CreateRepository(ctx, repo); err != nil {
		return nil, nil, fmt.Errorf("failed to register repository: %w", err)
	}

	job, err := s.jobs.Create(ctx, repo.ID, types.JobIngest)
	if err != nil {
		return nil, nil, err
	}
	return repo, job, nil
}

// reingest discards derived data and restarts the pipeline. The record and
// its ID survive so sessions and job history stay attached.
func (s *Service) reingest(ctx context.Context, repo *types.Repository) (*types.Repository, *types.Job, error) {
	if repo.Status != types.StatusFailed {
		if err := s.lifecycle.MarkFailed(ctx, repo, "superseded by forced re-ingest"); err != nil {
			return nil, nil, err
		}
	}
	if err := s.lifecycle.Retry(ctx, repo); err != nil {
		return nil, nil, err
	}

	if err := s.store.DeleteChunksForRepo(ctx, repo.ID); err != nil {
		return nil, nil, err
	}
	if err := s.indexStore.Delete(repo.ID); err != nil {
		return nil, nil, err
	}
	repo.TotalChunks = 0
	repo.ReadmeContent = ""
	repo.ArchitectureContent = ""
	if err := s.store.UpdateRepository(ctx, repo); err != nil {
		return nil, nil, err
	}

	job, err := s.jobs.Create(ctx, repo.ID, types.JobIngest)
	if err != nil {
		return nil, nil, err
	}
	return repo, job, nil
}

// Execute runs the ingest pipeline for a started job: clone the source,
// enforce the size ceiling, analyze structure. On any failure both the
// repository and the job are marked failed.
func (s *Service) Execute(ctx context.Context, job *types.Job) error {
	repo, err := s.store.GetRepository(ctx, job.RepoID)
	if err != nil {
		_ = s.jobs.Fail(ctx, job, err.Error())
		return err
	}

	if err := s.run(ctx, repo, job); err != nil {
		_ = s.lifecycle.MarkFailed(ctx, repo, err.Error())
		_ = s.jobs.Fail(ctx, job, err.Error())
		return err
	}
	return s.jobs.Complete(ctx, job)
}

func (s *Service) run(ctx context.Context, repo *types.Repository, job *types.Job) error {
	if err := s.jobs.UpdateProgress(ctx, job, 10); err != nil {
		return err
	}

	src, err := fetcher.ParseSourceURL(repo.RepoURL)
	if err != nil {
		return err
	}

	dir, commit, err := s.fetcher.Fetch(ctx, src, repo.ID)
	if err != nil {
		return err
	}

	size, err := fetcher.DirSize(dir)
	if err != nil {
		return err
	}
	if limit := s.cfg.MaxRepoSizeBytes(); size > limit {
		_ = s.fetcher.Delete(repo.ID)
		return &types.TooLargeError{SizeBytes: size, LimitBytes: limit}
	}

	repo.CommitHash = commit
	repo.TotalSizeBytes = size
	if err := s.lifecycle.Transition(ctx, repo, types.StatusCloned); err != nil {
		return err
	}
	if err := s.jobs.UpdateProgress(ctx, job, 40); err != nil {
		return err
	}

	files, language, err := analyzeStructure(dir)
	if err != nil {
		return err
	}
	repo.TotalFiles = files
	repo.PrimaryLanguage = language
	if err := s.lifecycle.Transition(ctx, repo, types.StatusStructured); err != nil {
		return err
	}

	s.log.Info("repository ingested",
		"repo_id", repo.ID, "files", files, "language", language, "bytes", size)
	return nil
}

// analyzeStructure counts processable files and determines the dominant
// language. Ties go to the language seen first in walk order.
func analyzeStructure(dir string) (int, string, error) {
	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	files := 0
	seq := 0

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if chunker.ShouldSkip(rel) {
			return nil
		}

		files++
		if lang := chunker.DetectLanguage(path); lang != "" {
			if _, ok := firstSeen[lang]; !ok {
				firstSeen[lang] = seq
				seq++
			}
			counts[lang]++
		}
		return nil
	})
	if err != nil {
		return 0, "", fmt.Errorf("failed to analyze structure: %w", err)
	}

	primary := ""
	best := 0
	for lang, count := range counts {
		if count > best || (count == best && primary != "" && firstSeen[lang] < firstSeen[primary]) {
			primary = lang
			best = count
		}
	}
	return files, primary, nil
}
