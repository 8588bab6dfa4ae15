package storage

import (
	"context"
	"time"

	"github.com/repolab/repotutor/pkg/types"
)

// Storage defines the persistence interface for repositories, jobs, code
// chunks, and tutor sessions.
type Storage interface {
	// Repository operations
	CreateRepository(ctx context.Context, repo *types.Repository) error
	GetRepository(ctx context.Context, id string) (*types.Repository, error)
	GetRepositoryByURL(ctx context.Context, url string) (*types.Repository, error)
	UpdateRepository(ctx context.Context, repo *types.Repository) error
	ListRepositories(ctx context.Context) ([]*types.Repository, error)
	DeleteRepository(ctx context.Context, id string) error

	// Job operations
	CreateJob(ctx context.Context, job *types.Job) error
	GetJob(ctx context.Context, id string) (*types.Job, error)
	UpdateJob(ctx context.Context, job *types.Job) error
	ListPendingJobs(ctx context.Context, limit int) ([]*types.Job, error)
	ListJobsForRepo(ctx context.Context, repoID string, limit int) ([]*types.Job, error)
	LatestJobForRepo(ctx context.Context, repoID string, jobType types.JobType) (*types.Job, error)

	// Chunk operations
	InsertChunks(ctx context.Context, chunks []*types.CodeChunk) error
	GetChunksByIDs(ctx context.Context, ids []string) ([]*types.CodeChunk, error)
	DeleteChunksForRepo(ctx context.Context, repoID string) error
	CountChunksForRepo(ctx context.Context, repoID string) (int, error)

	// Tutor session operations
	CreateSession(ctx context.Context, session *types.TutorSession) error
	GetSession(ctx context.Context, id string) (*types.TutorSession, error)
	UpdateSession(ctx context.Context, session *types.TutorSession) error
	DeleteExpiredSessions(ctx context.Context, ttl time.Duration) (int, error)

	// Tutor message operations
	CreateMessage(ctx context.Context, msg *types.TutorMessage) error
	ListMessages(ctx context.Context, sessionID string) ([]*types.TutorMessage, error)

	// Database operations
	Close() error
}
