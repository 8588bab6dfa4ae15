package docs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repolab/repotutor/internal/config"
	"github.com/repolab/repotutor/internal/jobs"
	"github.com/repolab/repotutor/internal/lifecycle"
	"github.com/repolab/repotutor/internal/llm"
	"github.com/repolab/repotutor/internal/storage"
	"github.com/repolab/repotutor/internal/vectorindex"
	"github.com/repolab/repotutor/pkg/types"
)

// scriptedCompleter returns its replies in order and records prompts.
type scriptedCompleter struct {
	replies []string
	err     error
	calls   int
	prompts []string
}

func (c *scriptedCompleter) Complete(ctx context.Context, messages []llm.Message, maxTokens int, temperature float64) (string, error) {
	c.calls++
	c.prompts = append(c.prompts, messages[len(messages)-1].Content)
	if c.err != nil {
		return "", c.err
	}
	reply := c.replies[0]
	if len(c.replies) > 1 {
		c.replies = c.replies[1:]
	}
	return reply, nil
}

func (c *scriptedCompleter) Provider() string { return "scripted" }
func (c *scriptedCompleter) Model() string    { return "scripted" }

type fixture struct {
	svc       *Service
	store     storage.Storage
	jobs      *jobs.Service
	completer *scriptedCompleter
	repoID    string
}

func setupFixture(t *testing.T) *fixture {
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	indexStore, err := vectorindex.NewStore(filepath.Join(dir, "indexes"))
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	cfg := config.Default()

	repo := &types.Repository{
		ID:      uuid.NewString(),
		RepoURL: "https://github.com/acme/widgets",
		Owner:   "acme", Name: "widgets",
		Status:          types.StatusIndexed,
		PrimaryLanguage: "python",
		TotalFiles:      8, TotalChunks: 2,
	}
	require.NoError(t, store.CreateRepository(ctx, repo))

	index, err := vectorindex.New(2)
	require.NoError(t, err)
	var chunks []*types.CodeChunk
	for i := 0; i < 2; i++ {
		chunk := &types.CodeChunk{
			ID: uuid.NewString(), RepoID: repo.ID,
			FilePath:  fmt.Sprintf("pkg/mod%d.py", i),
			StartLine: 1, EndLine: 10,
			SymbolType: "class", SymbolName: fmt.Sprintf("Widget%d", i),
			Language: "python", Content: "class Widget: pass",
			TokenCount: 4, EmbeddingIndex: i,
		}
		chunks = append(chunks, chunk)
		require.NoError(t, index.Add(chunk.ID, []float32{float32(i), 1}))
	}
	require.NoError(t, store.InsertChunks(ctx, chunks))
	require.NoError(t, indexStore.Save(repo.ID, index))

	completer := &scriptedCompleter{replies: []string{"# Widgets README", "# Architecture"}}
	lc := lifecycle.New(store, log)
	jobSvc := jobs.New(store, log)
	svc := New(store, lc, jobSvc, indexStore, completer, &cfg, log)

	return &fixture{svc: svc, store: store, jobs: jobSvc, completer: completer, repoID: repo.ID}
}

func startedJob(t *testing.T, f *fixture, repoID string) *types.Job {
	t.Helper()
	ctx := context.Background()
	job, err := f.jobs.Create(ctx, repoID, types.JobDocs)
	require.NoError(t, err)
	require.NoError(t, f.jobs.Start(ctx, job))
	return job
}

func TestExecute_GeneratesDocsAndAdvancesToReady(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	job := startedJob(t, f, f.repoID)

	require.NoError(t, f.svc.Execute(ctx, job))

	repo, err := f.store.GetRepository(ctx, f.repoID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusReady, repo.Status)
	assert.Equal(t, "# Widgets README", repo.ReadmeContent)
	assert.Equal(t, "# Architecture", repo.ArchitectureContent)

	stored, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobCompleted, stored.Status)
	assert.Equal(t, 100, stored.Progress)

	// Two generations, both fed the sampled structure
	assert.Equal(t, 2, f.completer.calls)
	assert.Contains(t, f.completer.prompts[0], "acme/widgets")
	assert.Contains(t, f.completer.prompts[0], "pkg/mod0.py")
	assert.Contains(t, f.completer.prompts[0], "class Widget0")
}

func TestExecute_WrongStateFailsJobAndRepo(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	repo := &types.Repository{
		ID:      uuid.NewString(),
		RepoURL: "https://github.com/acme/early",
		Owner:   "acme", Name: "early",
		Status: types.StatusStructured,
	}
	require.NoError(t, f.store.CreateRepository(ctx, repo))
	job := startedJob(t, f, repo.ID)

	err := f.svc.Execute(ctx, job)
	require.Error(t, err)

	stored, err := f.store.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, stored.Status)

	failed, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, failed.Status)
	assert.Zero(t, f.completer.calls)
}

func TestExecute_CompleterFailureMarksFailed(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	f.completer.err = fmt.Errorf("model unavailable")
	job := startedJob(t, f, f.repoID)

	err := f.svc.Execute(ctx, job)
	require.Error(t, err)

	repo, err := f.store.GetRepository(ctx, f.repoID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, repo.Status)
	assert.Contains(t, repo.ErrorMessage, "readme generation failed")

	failed, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, failed.Status)
}

func TestExecute_NoIndexStillGenerates(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	repo := &types.Repository{
		ID:      uuid.NewString(),
		RepoURL: "https://github.com/acme/empty",
		Owner:   "acme", Name: "empty",
		Status: types.StatusIndexed,
	}
	require.NoError(t, f.store.CreateRepository(ctx, repo))
	job := startedJob(t, f, repo.ID)

	require.NoError(t, f.svc.Execute(ctx, job))

	stored, err := f.store.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusReady, stored.Status)
	assert.NotEmpty(t, stored.ReadmeContent)
}

func TestRequest_QueuesDocsJob(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	job, err := f.svc.Request(ctx, f.repoID)
	require.NoError(t, err)
	assert.Equal(t, types.JobDocs, job.Type)
	assert.Equal(t, types.JobPending, job.Status)
}

func TestRequest_WindsBackForRegeneration(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	job := startedJob(t, f, f.repoID)
	require.NoError(t, f.svc.Execute(ctx, job))

	// READY repository: a new request rewinds to the indexed stage
	queued, err := f.svc.Request(ctx, f.repoID)
	require.NoError(t, err)
	assert.Equal(t, types.JobPending, queued.Status)

	repo, err := f.store.GetRepository(ctx, f.repoID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusIndexed, repo.Status)
}

func TestRequest_RejectsUnindexedRepo(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	repo := &types.Repository{
		ID:      uuid.NewString(),
		RepoURL: "https://github.com/acme/raw",
		Owner:   "acme", Name: "raw",
		Status: types.StatusCloned,
	}
	require.NoError(t, f.store.CreateRepository(ctx, repo))

	_, err := f.svc.Request(ctx, repo.ID)
	var notReady *types.NotReadyError
	assert.ErrorAs(t, err, &notReady)
}

func TestGet_GatedOnDocsStage(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	// Still INDEXED: docs reads are premature
	_, err := f.svc.GetReadme(ctx, f.repoID)
	var notReady *types.NotReadyError
	require.ErrorAs(t, err, &notReady)

	job := startedJob(t, f, f.repoID)
	require.NoError(t, f.svc.Execute(ctx, job))

	readme, err := f.svc.GetReadme(ctx, f.repoID)
	require.NoError(t, err)
	assert.Equal(t, "# Widgets README", readme)

	arch, err := f.svc.GetArchitecture(ctx, f.repoID)
	require.NoError(t, err)
	assert.Equal(t, "# Architecture", arch)

	_, err = f.svc.Get(ctx, f.repoID, Kind("changelog"))
	assert.Error(t, err)
}
