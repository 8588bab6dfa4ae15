package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/repolab/repotutor/internal/chunker"
	"github.com/repolab/repotutor/internal/config"
	"github.com/repolab/repotutor/internal/fetcher"
	"github.com/repolab/repotutor/internal/jobs"
	"github.com/repolab/repotutor/internal/lifecycle"
	"github.com/repolab/repotutor/internal/llm"
	"github.com/repolab/repotutor/internal/metrics"
	"github.com/repolab/repotutor/internal/storage"
	"github.com/repolab/repotutor/internal/vectorindex"
	"github.com/repolab/repotutor/pkg/types"
)

// embedWorkers bounds concurrent embedding batches in flight
const embedWorkers = 4

// Service runs the indexing pipeline: chunk the checkout, embed every
// chunk, and publish a fresh vector index generation.
type Service struct {
	store      storage.Storage
	lifecycle  *lifecycle.Service
	jobs       *jobs.Service
	fetcher    *fetcher.Fetcher
	indexStore *vectorindex.Store
	embedder   llm.Embedder
	chunker    *chunker.Chunker
	metrics    *metrics.Metrics
	cfg        *config.Config
	log        *slog.Logger

	locks sync.Map // repo ID → *indexLock
}

// New creates an indexer service.
func New(store storage.Storage, lc *lifecycle.Service, jobSvc *jobs.Service,
	f *fetcher.Fetcher, indexStore *vectorindex.Store, embedder llm.Embedder,
	m *metrics.Metrics, cfg *config.Config, log *slog.Logger) *Service {
	ch := chunker.New()
	ch.MaxFileBytes = cfg.MaxFileSizeBytes()
	return &Service{
		store:      store,
		lifecycle:  lc,
		jobs:       jobSvc,
		fetcher:    f,
		indexStore: indexStore,
		embedder:   embedder,
		chunker:    ch,
		metrics:    m,
		cfg:        cfg,
		log:        log,
	}
}

// Request queues an index job for a structured repository. A repository
// that already carries an index generation is only re-queued when force is
// set; its state winds back to the structured stage so the pipeline can
// publish a fresh generation.
func (s *Service) Request(ctx context.Context, repoID string, force bool) (*types.Job, error) {
	repo, err := s.lifecycle.CheckReadiness(ctx, repoID, "index")
	if err != nil {
		return nil, err
	}

	if repo.Status != types.StatusStructured {
		if !force {
			return nil, fmt.Errorf("repository %s is already %s, use force to re-index", repo.ID, repo.Status)
		}
		repo.Status = types.StatusStructured
		if err := s.store.UpdateRepository(ctx, repo); err != nil {
			return nil, err
		}
	}
	return s.jobs.Create(ctx, repo.ID, types.JobIndex)
}

// Execute runs the index pipeline for a started job. Overlapping runs for
// the same repository are rejected. On failure both the repository and the
// job are marked failed.
func (s *Service) Execute(ctx context.Context, job *types.Job) error {
	repo, err := s.store.GetRepository(ctx, job.RepoID)
	if err != nil {
		_ = s.jobs.Fail(ctx, job, err.Error())
		return err
	}

	lockAny, _ := s.locks.LoadOrStore(repo.ID, &indexLock{})
	lock := lockAny.(*indexLock)
	if !lock.TryAcquire() {
		err := fmt.Errorf("index already in progress for repository %s", repo.ID)
		_ = s.jobs.Fail(ctx, job, err.Error())
		return err
	}
	defer lock.Release()

	if err := s.run(ctx, repo, job); err != nil {
		_ = s.lifecycle.MarkFailed(ctx, repo, err.Error())
		_ = s.jobs.Fail(ctx, job, err.Error())
		return err
	}
	return s.jobs.Complete(ctx, job)
}

func (s *Service) run(ctx context.Context, repo *types.Repository, job *types.Job) error {
	if repo.Status != types.StatusStructured {
		return &types.InvalidTransitionError{From: repo.Status, To: types.StatusIndexed}
	}

	if err := s.jobs.UpdateProgress(ctx, job, 10); err != nil {
		return err
	}

	chunks, err := s.chunkCheckout(s.fetcher.Dir(repo.ID))
	if err != nil {
		return err
	}
	if err := s.jobs.UpdateProgress(ctx, job, 30); err != nil {
		return err
	}

	// A repository with nothing chunkable still advances; searches simply
	// come back empty.
	if len(chunks) == 0 {
		if err := s.store.DeleteChunksForRepo(ctx, repo.ID); err != nil {
			return err
		}
		if err := s.indexStore.Delete(repo.ID); err != nil {
			return err
		}
		repo.TotalChunks = 0
		return s.lifecycle.Transition(ctx, repo, types.StatusIndexed)
	}

	vectors, err := s.embedChunks(ctx, chunks)
	if err != nil {
		return err
	}
	if err := s.jobs.UpdateProgress(ctx, job, 80); err != nil {
		return err
	}

	// Replace the previous generation wholesale: chunk rows first, then
	// the index artifact keyed to the new rows.
	if err := s.store.DeleteChunksForRepo(ctx, repo.ID); err != nil {
		return err
	}

	index, err := vectorindex.New(len(vectors[0]))
	if err != nil {
		return err
	}

	rows := make([]*types.CodeChunk, len(chunks))
	for i, chunk := range chunks {
		row := &types.CodeChunk{
			ID:             uuid.NewString(),
			RepoID:         repo.ID,
			FilePath:       chunk.FilePath,
			StartLine:      chunk.StartLine,
			EndLine:        chunk.EndLine,
			SymbolType:     chunk.SymbolType,
			SymbolName:     chunk.SymbolName,
			Language:       chunk.Language,
			Content:        chunk.Content,
			TokenCount:     chunk.TokenCount,
			EmbeddingIndex: i,
		}
		rows[i] = row
		if err := index.Add(row.ID, vectors[i]); err != nil {
			return err
		}
	}
	if err := s.store.InsertChunks(ctx, rows); err != nil {
		return err
	}
	if err := s.indexStore.Save(repo.ID, index); err != nil {
		return err
	}

	repo.TotalChunks = len(rows)
	if err := s.lifecycle.Transition(ctx, repo, types.StatusIndexed); err != nil {
		return err
	}

	s.metrics.ChunksIndexed.Add(float64(len(rows)))
	s.log.Info("repository indexed", "repo_id", repo.ID, "chunks", len(rows))
	return nil
}

// chunkCheckout walks the checkout and chunks every processable file,
// honoring the file and chunk ceilings. Hitting a ceiling truncates the
// output rather than failing the run.
func (s *Service) chunkCheckout(dir string) ([]chunker.Chunk, error) {
	var chunks []chunker.Chunk
	files := 0

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
		if files >= s.cfg.MaxFiles || len(chunks) >= s.cfg.MaxChunks {
			return filepath.SkipAll
		}

		// Every walked file counts toward the cap, chunks or not
		files++

		fileChunks, err := s.chunker.ChunkFile(path, dir)
		if err != nil {
			// Unreadable files are logged and skipped, not fatal
			s.log.Warn("failed to chunk file", "path", path, "error", err)
			return nil
		}
		chunks = append(chunks, fileChunks...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk checkout: %w", err)
	}

	if len(chunks) > s.cfg.MaxChunks {
		chunks = chunks[:s.cfg.MaxChunks]
	}
	return chunks, nil
}

// embedChunks embeds all chunks in provider-sized batches, several batches
// in flight at once. The result preserves chunk order: vectors[i] embeds
// chunks[i].
func (s *Service) embedChunks(ctx context.Context, chunks []chunker.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = embeddingText(chunk)
	}

	vectors := make([][]float32, len(texts))
	semaphore := make(chan struct{}, embedWorkers)
	g, gctx := errgroup.WithContext(ctx)

	for start := 0; start < len(texts); start += llm.DefaultBatchSize {
		end := start + llm.DefaultBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end

		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case semaphore <- struct{}{}:
			}
			defer func() { <-semaphore }()

			batch, err := s.embedder.EmbedBatch(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("failed to embed chunks %d-%d: %w", start, end-1, err)
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// embeddingText builds the text sent to the embedding provider: a short
// provenance header followed by the chunk body.
func embeddingText(chunk chunker.Chunk) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "File: %s\n", chunk.FilePath)
	if chunk.SymbolName != "" {
		fmt.Fprintf(&sb, "Symbol: %s\n", chunk.SymbolName)
	}
	if chunk.SymbolType != "" {
		fmt.Fprintf(&sb, "Type: %s\n", chunk.SymbolType)
	}
	fmt.Fprintf(&sb, "Lines: %d-%d\n\n", chunk.StartLine, chunk.EndLine)
	sb.WriteString(chunk.Content)
	return sb.String()
}
