package docs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/repolab/repotutor/internal/config"
	"github.com/repolab/repotutor/internal/jobs"
	"github.com/repolab/repotutor/internal/lifecycle"
	"github.com/repolab/repotutor/internal/llm"
	"github.com/repolab/repotutor/internal/storage"
	"github.com/repolab/repotutor/internal/vectorindex"
	"github.com/repolab/repotutor/pkg/types"
)

const (
	// sampleChunks bounds how many indexed chunks feed the generation
	// context
	sampleChunks = 20

	docsMaxTokens   = 2048
	docsTemperature = 0.3
)

// Kind selects which generated document to read.
type Kind string

const (
	KindReadme       Kind = "readme"
	KindArchitecture Kind = "architecture"
)

// Service generates repository documentation from indexed content and
// serves it back once generated.
type Service struct {
	store      storage.Storage
	lifecycle  *lifecycle.Service
	jobs       *jobs.Service
	indexStore *vectorindex.Store
	completer  llm.Completer
	cfg        *config.Config
	log        *slog.Logger
}

// New creates a docs service.
func New(store storage.Storage, lc *lifecycle.Service, jobSvc *jobs.Service,
	indexStore *vectorindex.Store, completer llm.Completer,
	cfg *config.Config, log *slog.Logger) *Service {
	return &Service{
		store:      store,
		lifecycle:  lc,
		jobs:       jobSvc,
		indexStore: indexStore,
		completer:  completer,
		cfg:        cfg,
		log:        log,
	}
}

// Request queues a docs generation job for an indexed repository. A
// repository past the indexed stage winds back to it so the documents can
// be regenerated.
func (s *Service) Request(ctx context.Context, repoID string) (*types.Job, error) {
	repo, err := s.store.GetRepository(ctx, repoID)
	if err != nil {
		return nil, err
	}
	if !repo.HasReachedState(types.StatusIndexed) {
		return nil, &types.NotReadyError{
			RepoID:    repo.ID,
			Operation: "docs",
			Current:   repo.Status,
			Required:  types.StatusIndexed,
		}
	}

	if repo.Status != types.StatusIndexed {
		repo.Status = types.StatusIndexed
		if err := s.store.UpdateRepository(ctx, repo); err != nil {
			return nil, err
		}
	}
	return s.jobs.Create(ctx, repo.ID, types.JobDocs)
}

// Execute runs the docs generation pipeline for a started job. On failure
// both the repository and the job are marked failed.
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
	if repo.Status != types.StatusIndexed {
		return &types.InvalidTransitionError{From: repo.Status, To: types.StatusDocsGenerated}
	}

	if err := s.jobs.UpdateProgress(ctx, job, 10); err != nil {
		return err
	}

	chunks, err := s.sampleIndexedChunks(ctx, repo.ID)
	if err != nil {
		return err
	}
	overview := repoOverview(repo, chunks)

	readme, err := s.generate(ctx, readmePrompt, overview)
	if err != nil {
		return fmt.Errorf("readme generation failed: %w", err)
	}
	if err := s.jobs.UpdateProgress(ctx, job, 55); err != nil {
		return err
	}

	architecture, err := s.generate(ctx, architecturePrompt, overview)
	if err != nil {
		return fmt.Errorf("architecture generation failed: %w", err)
	}
	if err := s.jobs.UpdateProgress(ctx, job, 85); err != nil {
		return err
	}

	repo.ReadmeContent = readme
	repo.ArchitectureContent = architecture
	if err := s.lifecycle.Transition(ctx, repo, types.StatusDocsGenerated); err != nil {
		return err
	}
	if err := s.lifecycle.Transition(ctx, repo, types.StatusReady); err != nil {
		return err
	}

	s.log.Info("docs generated", "repo_id", repo.ID,
		"readme_bytes", len(readme), "architecture_bytes", len(architecture))
	return nil
}

// Get returns a generated document, gated on the docs lifecycle floor.
func (s *Service) Get(ctx context.Context, repoID string, kind Kind) (string, error) {
	var operation string
	switch kind {
	case KindReadme:
		operation = "docs_readme"
	case KindArchitecture:
		operation = "docs_architecture"
	default:
		return "", fmt.Errorf("unknown docs kind %q", kind)
	}

	repo, err := s.lifecycle.CheckReadiness(ctx, repoID, operation)
	if err != nil {
		return "", err
	}
	if kind == KindReadme {
		return repo.ReadmeContent, nil
	}
	return repo.ArchitectureContent, nil
}

// GetReadme returns the generated README for a repository.
func (s *Service) GetReadme(ctx context.Context, repoID string) (string, error) {
	return s.Get(ctx, repoID, KindReadme)
}

// GetArchitecture returns the generated architecture overview.
func (s *Service) GetArchitecture(ctx context.Context, repoID string) (string, error) {
	return s.Get(ctx, repoID, KindArchitecture)
}

func (s *Service) generate(ctx context.Context, system, overview string) (string, error) {
	messages := []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: overview},
	}
	text, err := s.completer.Complete(ctx, messages, docsMaxTokens, docsTemperature)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("completion returned no content")
	}
	return text, nil
}

// sampleIndexedChunks pulls a bounded set of chunks, in slot order, from
// the current index generation. A repository indexed with zero chunks
// yields an empty sample.
func (s *Service) sampleIndexedChunks(ctx context.Context, repoID string) ([]*types.CodeChunk, error) {
	index, ok, err := s.indexStore.Load(repoID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	n := index.Len()
	if n > sampleChunks {
		n = sampleChunks
	}
	ids := make([]string, 0, n)
	for slot := 0; slot < n; slot++ {
		if id, ok := index.IDFor(slot); ok {
			ids = append(ids, id)
		}
	}
	return s.store.GetChunksByIDs(ctx, ids)
}

const readmePrompt = `You are a technical writer. From the repository
overview provided, write a README in Markdown: what the project is, its
primary language, notable components, and how the pieces fit together.
State only what the overview supports.`

const architecturePrompt = `You are a software architect. From the
repository overview provided, write an architecture document in Markdown:
major components, how data flows between them, and the key design
decisions visible in the structure. State only what the overview supports.`

// repoOverview renders the generation context: repository statistics plus
// a directory and symbol sketch from the sampled chunks.
func repoOverview(repo *types.Repository, chunks []*types.CodeChunk) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Repository: %s/%s\n", repo.Owner, repo.Name)
	fmt.Fprintf(&sb, "URL: %s\n", repo.RepoURL)
	if repo.PrimaryLanguage != "" {
		fmt.Fprintf(&sb, "Primary language: %s\n", repo.PrimaryLanguage)
	}
	fmt.Fprintf(&sb, "Files: %d, indexed chunks: %d, size: %d bytes\n",
		repo.TotalFiles, repo.TotalChunks, repo.TotalSizeBytes)

	if len(chunks) > 0 {
		files := make(map[string][]string)
		for _, c := range chunks {
			if c.SymbolName != "" {
				files[c.FilePath] = append(files[c.FilePath],
					c.SymbolType+" "+c.SymbolName)
			} else if _, seen := files[c.FilePath]; !seen {
				files[c.FilePath] = nil
			}
		}
		paths := make([]string, 0, len(files))
		for p := range files {
			paths = append(paths, p)
		}
		sort.Strings(paths)

		sb.WriteString("\nSampled structure:\n")
		for _, p := range paths {
			fmt.Fprintf(&sb, "- %s", p)
			if syms := files[p]; len(syms) > 0 {
				fmt.Fprintf(&sb, ": %s", strings.Join(syms, ", "))
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
