package ingest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repolab/repotutor/internal/config"
	"github.com/repolab/repotutor/internal/fetcher"
	"github.com/repolab/repotutor/internal/jobs"
	"github.com/repolab/repotutor/internal/lifecycle"
	"github.com/repolab/repotutor/internal/storage"
	"github.com/repolab/repotutor/internal/vectorindex"
	"github.com/repolab/repotutor/pkg/types"
)

// stubFetcher materializes a canned file tree instead of cloning.
type stubFetcher struct {
	root   string
	files  map[string]string
	commit string
	err    error
}

func (s *stubFetcher) Fetch(ctx context.Context, src *fetcher.Source, repoID string) (string, string, error) {
	if s.err != nil {
		return "", "", s.err
	}
	dir := filepath.Join(s.root, repoID)
	if err := os.RemoveAll(dir); err != nil {
		return "", "", err
	}
	for rel, content := range s.files {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", "", err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return "", "", err
		}
	}
	return dir, s.commit, nil
}

func (s *stubFetcher) Delete(repoID string) error {
	return os.RemoveAll(filepath.Join(s.root, repoID))
}

type fixture struct {
	svc   *Service
	store storage.Storage
	jobs  *jobs.Service
	fetch *stubFetcher
	cfg   *config.Config
}

func setupFixture(t *testing.T) *fixture {
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	indexStore, err := vectorindex.NewStore(filepath.Join(dir, "indexes"))
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.DataDir = dir

	lc := lifecycle.New(store, log)
	jobSvc := jobs.New(store, log)
	fetch := &stubFetcher{
		root: filepath.Join(dir, "repos"),
		files: map[string]string{
			"app/main.py": "print('hi')",
			"app/util.py": "x = 1",
			"README.md":   "# readme",
		},
		commit: "abc123def456",
	}

	return &fixture{
		svc:   New(store, lc, jobSvc, fetch, indexStore, &cfg, log),
		store: store,
		jobs:  jobSvc,
		fetch: fetch,
		cfg:   &cfg,
	}
}

func (f *fixture) startedIngestJob(t *testing.T, url string) (*types.Repository, *types.Job) {
	ctx := context.Background()
	repo, job, err := f.svc.Ingest(ctx, url, false)
	require.NoError(t, err)
	require.NoError(t, f.jobs.Start(ctx, job))
	return repo, job
}

func TestIngest_RegistersAndQueues(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	repo, job, err := f.svc.Ingest(ctx, "https://github.com/acme/widgets.git", false)
	require.NoError(t, err)

	assert.Equal(t, "https://github.com/acme/widgets", repo.RepoURL)
	assert.Equal(t, "acme", repo.Owner)
	assert.Equal(t, "widgets", repo.Name)
	assert.Equal(t, types.StatusCreated, repo.Status)

	require.NotNil(t, job)
	assert.Equal(t, types.JobIngest, job.Type)
	assert.Equal(t, types.JobPending, job.Status)
}

func TestIngest_IdempotentWithoutForce(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	repo1, job1, err := f.svc.Ingest(ctx, "https://github.com/acme/widgets", false)
	require.NoError(t, err)

	// Same repository via the ssh form: same record, same job, no new work
	repo2, job2, err := f.svc.Ingest(ctx, "git@github.com:acme/widgets.git", false)
	require.NoError(t, err)
	assert.Equal(t, repo1.ID, repo2.ID)
	assert.Equal(t, job1.ID, job2.ID)
}

func TestIngest_ForceResetsPipeline(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	repo, job1, err := f.svc.Ingest(ctx, "https://github.com/acme/widgets", false)
	require.NoError(t, err)

	// Simulate a completed pipeline with derived data
	for _, status := range []types.RepoStatus{
		types.StatusCloned, types.StatusStructured, types.StatusIndexed,
	} {
		repo.Status = status
		require.NoError(t, f.store.UpdateRepository(ctx, repo))
	}
	chunk := &types.CodeChunk{
		ID: "c1", RepoID: repo.ID, FilePath: "a.py",
		StartLine: 1, EndLine: 2, Content: "x", EmbeddingIndex: 0,
	}
	require.NoError(t, f.store.InsertChunks(ctx, []*types.CodeChunk{chunk}))
	repo.TotalChunks = 1
	require.NoError(t, f.store.UpdateRepository(ctx, repo))

	reset, job2, err := f.svc.Ingest(ctx, "https://github.com/acme/widgets", true)
	require.NoError(t, err)
	assert.Equal(t, repo.ID, reset.ID)
	assert.NotEqual(t, job1.ID, job2.ID)
	assert.Equal(t, types.StatusCreated, reset.Status)
	assert.Zero(t, reset.TotalChunks)

	count, err := f.store.CountChunksForRepo(ctx, repo.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIngest_InvalidURL(t *testing.T) {
	f := setupFixture(t)

	_, _, err := f.svc.Ingest(context.Background(), "https://example.com/not/github", false)
	var invalid *types.InvalidSourceError
	assert.ErrorAs(t, err, &invalid)
}

func TestExecute_ClonesAndAnalyzes(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	repo, job := f.startedIngestJob(t, "https://github.com/acme/widgets")
	require.NoError(t, f.svc.Execute(ctx, job))

	updated, err := f.store.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusStructured, updated.Status)
	assert.Equal(t, "abc123def456", updated.CommitHash)
	assert.Equal(t, 3, updated.TotalFiles)
	assert.Equal(t, "python", updated.PrimaryLanguage)
	assert.Greater(t, updated.TotalSizeBytes, int64(0))

	done, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
}

func TestExecute_TooLargeFailsRepoAndJob(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	f.cfg.MaxRepoSizeMB = 0

	repo, job := f.startedIngestJob(t, "https://github.com/acme/widgets")

	err := f.svc.Execute(ctx, job)
	var tooLarge *types.TooLargeError
	require.ErrorAs(t, err, &tooLarge)

	updated, err := f.store.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, updated.Status)
	assert.NotEmpty(t, updated.ErrorMessage)

	failed, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, failed.Status)

	// The oversized checkout is removed
	_, statErr := os.Stat(filepath.Join(f.fetch.root, repo.ID))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExecute_FetchFailureFailsRepoAndJob(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	f.fetch.err = &types.SourceFetchError{
		URL: "https://github.com/acme/widgets",
		Err: os.ErrDeadlineExceeded,
	}

	repo, job := f.startedIngestJob(t, "https://github.com/acme/widgets")

	err := f.svc.Execute(ctx, job)
	var fetchErr *types.SourceFetchError
	require.ErrorAs(t, err, &fetchErr)

	updated, err := f.store.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, updated.Status)

	failed, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, failed.Status)
}

func TestAnalyzeStructure(t *testing.T) {
	dir := t.TempDir()

	write := func(rel string, content string) {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	write("app/main.py", "print('hi')")
	write("app/util.py", "x = 1")
	write("web/index.js", "console.log(1)")
	write("README.md", "# readme")
	write("logo.png", "binarydata")
	write(".git/HEAD", "ref: refs/heads/main")
	write("node_modules/dep/index.js", "ignored")

	files, language, err := analyzeStructure(dir)
	require.NoError(t, err)

	// png, .git and node_modules entries are skipped
	assert.Equal(t, 4, files)
	assert.Equal(t, "python", language)
}

func TestAnalyzeStructure_TieGoesToFirstSeen(t *testing.T) {
	dir := t.TempDir()

	// Walk order is lexicographic: a.js before b.py
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.py"), []byte("y"), 0o644))

	_, language, err := analyzeStructure(dir)
	require.NoError(t, err)
	assert.Equal(t, "javascript", language)
}

func TestAnalyzeStructure_Empty(t *testing.T) {
	files, language, err := analyzeStructure(t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, files)
	assert.Empty(t, language)
}
