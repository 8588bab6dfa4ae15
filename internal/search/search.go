package search

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/repolab/repotutor/internal/lifecycle"
	"github.com/repolab/repotutor/internal/llm"
	"github.com/repolab/repotutor/internal/storage"
	"github.com/repolab/repotutor/internal/vectorindex"
)

// topKHeadroom is the extra candidate budget requested from the vector
// index beyond limit+offset, so glob filtering and dropped chunk rows do
// not starve a page.
const topKHeadroom = 50

// Result is a single search hit joined with its chunk row.
type Result struct {
	ChunkID    string  `json:"chunk_id"`
	FilePath   string  `json:"file_path"`
	StartLine  int     `json:"start_line"`
	EndLine    int     `json:"end_line"`
	SymbolType string  `json:"symbol_type,omitempty"`
	SymbolName string  `json:"symbol_name,omitempty"`
	Language   string  `json:"language,omitempty"`
	Content    string  `json:"content"`
	Score      float32 `json:"score"`
}

// Response is a page of results plus the filtered total.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// Options tunes a single query.
type Options struct {
	Limit      int
	Offset     int
	MinScore   float32
	FileFilter string // glob matched against chunk file paths
}

// Service answers semantic code search queries over indexed repositories.
type Service struct {
	store      storage.Storage
	lifecycle  *lifecycle.Service
	indexStore *vectorindex.Store
	embedder   llm.Embedder
	log        *slog.Logger
}

// New creates a search service.
func New(store storage.Storage, lc *lifecycle.Service, indexStore *vectorindex.Store,
	embedder llm.Embedder, log *slog.Logger) *Service {
	return &Service{
		store:      store,
		lifecycle:  lc,
		indexStore: indexStore,
		embedder:   embedder,
		log:        log,
	}
}

// Search embeds the query and returns the best-matching chunks. The total
// counts all matches that survive the score threshold and file filter,
// before pagination. Results are deterministic: score descending with
// insertion slot as the tiebreak.
func (s *Service) Search(ctx context.Context, repoID, query string, opts Options) (*Response, error) {
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	var filter *regexp.Regexp
	if opts.FileFilter != "" {
		var err error
		if filter, err = compileFileFilter(opts.FileFilter); err != nil {
			return nil, fmt.Errorf("invalid file filter %q: %w", opts.FileFilter, err)
		}
	}

	if _, err := s.lifecycle.CheckReadiness(ctx, repoID, "search"); err != nil {
		return nil, err
	}

	index, ok, err := s.indexStore.Load(repoID)
	if err != nil {
		return nil, err
	}
	if !ok || index.Len() == 0 {
		return &Response{Results: []Result{}, Total: 0, Limit: opts.Limit, Offset: opts.Offset}, nil
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	topK := opts.Limit + opts.Offset + topKHeadroom
	matches, err := index.Search(vector, topK, opts.MinScore)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	chunks, err := s.store.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	// Chunk rows come back in request order, so scores line up by walking
	// both slices together; rows deleted since indexing are skipped.
	byID := make(map[string]int, len(matches))
	for i, m := range matches {
		byID[m.ID] = i
	}

	filtered := make([]Result, 0, len(chunks))
	for _, chunk := range chunks {
		if filter != nil && !filter.MatchString(chunk.FilePath) {
			continue
		}
		m := matches[byID[chunk.ID]]
		filtered = append(filtered, Result{
			ChunkID:    chunk.ID,
			FilePath:   chunk.FilePath,
			StartLine:  chunk.StartLine,
			EndLine:    chunk.EndLine,
			SymbolType: chunk.SymbolType,
			SymbolName: chunk.SymbolName,
			Language:   chunk.Language,
			Content:    chunk.Content,
			Score:      m.Score,
		})
	}

	total := len(filtered)
	start := opts.Offset
	if start > total {
		start = total
	}
	end := start + opts.Limit
	if end > total {
		end = total
	}

	s.log.Debug("search served", "repo_id", repoID, "total", total, "returned", end-start)

	return &Response{
		Results: filtered[start:end],
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}, nil
}

// compileFileFilter translates a shell-style glob into an anchored regexp.
// Unlike path globs, * and ? match across directory separators, so "*.py"
// matches files in any subdirectory.
func compileFileFilter(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString(`^`)
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			sb.WriteString(`.*`)
		case '?':
			sb.WriteString(`.`)
		case '[':
			end := strings.IndexByte(pattern[i+1:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated character class")
			}
			set := pattern[i+1 : i+1+end]
			i += end + 1
			if strings.HasPrefix(set, "!") {
				set = "^" + set[1:]
			}
			sb.WriteString(`[` + strings.ReplaceAll(set, `\`, `\\`) + `]`)
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	sb.WriteString(`$`)
	return regexp.Compile(sb.String())
}
