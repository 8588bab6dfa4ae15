package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/repolab/repotutor/internal/storage"
	"github.com/repolab/repotutor/pkg/types"
)

// operationFloors maps each read operation to the minimum lifecycle state
// a repository must have reached before the operation is served.
var operationFloors = map[string]types.RepoStatus{
	"summary":           types.StatusStructured,
	"structure":         types.StatusStructured,
	"index":             types.StatusStructured,
	"search":            types.StatusIndexed,
	"session":           types.StatusIndexed,
	"ask":               types.StatusIndexed,
	"docs":              types.StatusStructured,
	"docs_readme":       types.StatusDocsGenerated,
	"docs_architecture": types.StatusDocsGenerated,
}

// Service owns repository lifecycle transitions and readiness checks. All
// state changes are persisted as part of the call.
type Service struct {
	store storage.Storage
	log   *slog.Logger
}

// New creates a lifecycle service.
func New(store storage.Storage, log *slog.Logger) *Service {
	return &Service{store: store, log: log}
}

// Get returns a repository by ID.
func (s *Service) Get(ctx context.Context, id string) (*types.Repository, error) {
	return s.store.GetRepository(ctx, id)
}

// GetByURL returns a repository by its normalized source URL.
func (s *Service) GetByURL(ctx context.Context, url string) (*types.Repository, error) {
	return s.store.GetRepositoryByURL(ctx, url)
}

// Transition moves a repository to the target state and persists it. An
// illegal move returns *types.InvalidTransitionError and changes nothing.
// Leaving FAILED clears the stored error message.
func (s *Service) Transition(ctx context.Context, repo *types.Repository, to types.RepoStatus) error {
	if !repo.CanTransitionTo(to) {
		return &types.InvalidTransitionError{From: repo.Status, To: to}
	}

	from := repo.Status
	repo.Status = to
	if from == types.StatusFailed {
		repo.ErrorMessage = ""
	}

	if err := s.store.UpdateRepository(ctx, repo); err != nil {
		repo.Status = from
		return fmt.Errorf("failed to persist transition: %w", err)
	}

	s.log.Info("repository state changed",
		"repo_id", repo.ID, "from", string(from), "to", string(to))
	return nil
}

// MarkFailed moves a repository to FAILED with a diagnostic message. A
// repository already FAILED keeps its state and only updates the message.
func (s *Service) MarkFailed(ctx context.Context, repo *types.Repository, message string) error {
	from := repo.Status
	if from != types.StatusFailed && !repo.CanTransitionTo(types.StatusFailed) {
		return &types.InvalidTransitionError{From: from, To: types.StatusFailed}
	}

	repo.Status = types.StatusFailed
	repo.ErrorMessage = message
	if err := s.store.UpdateRepository(ctx, repo); err != nil {
		repo.Status = from
		return fmt.Errorf("failed to persist failure: %w", err)
	}

	s.log.Warn("repository failed",
		"repo_id", repo.ID, "from", string(from), "error", message)
	return nil
}

// Retry moves a FAILED repository back to CREATED so its pipeline can be
// rerun from the start.
func (s *Service) Retry(ctx context.Context, repo *types.Repository) error {
	return s.Transition(ctx, repo, types.StatusCreated)
}

// CheckReadiness loads a repository and verifies it has progressed far
// enough for the named operation. A FAILED repository is never ready.
func (s *Service) CheckReadiness(ctx context.Context, repoID, operation string) (*types.Repository, error) {
	required, ok := operationFloors[operation]
	if !ok {
		return nil, fmt.Errorf("unknown operation %q", operation)
	}

	repo, err := s.store.GetRepository(ctx, repoID)
	if err != nil {
		return nil, err
	}

	if !repo.HasReachedState(required) {
		return nil, &types.NotReadyError{
			RepoID:    repoID,
			Operation: operation,
			Current:   repo.Status,
			Required:  required,
		}
	}
	return repo, nil
}
