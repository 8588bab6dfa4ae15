package tutor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repolab/repotutor/internal/config"
	"github.com/repolab/repotutor/internal/lifecycle"
	"github.com/repolab/repotutor/internal/llm"
	"github.com/repolab/repotutor/internal/search"
	"github.com/repolab/repotutor/internal/storage"
	"github.com/repolab/repotutor/internal/vectorindex"
	"github.com/repolab/repotutor/pkg/types"
)

type stubEmbedder struct {
	vector []float32
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.vector, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vector
	}
	return out, nil
}

func (s *stubEmbedder) Dimension() int   { return len(s.vector) }
func (s *stubEmbedder) Provider() string { return "stub" }
func (s *stubEmbedder) Model() string    { return "stub" }

// mockCompleter records invocations and replies with a canned string.
type mockCompleter struct {
	reply        string
	err          error
	calls        int
	lastMessages []llm.Message
}

func (m *mockCompleter) Complete(ctx context.Context, messages []llm.Message, maxTokens int, temperature float64) (string, error) {
	m.calls++
	m.lastMessages = messages
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

func (m *mockCompleter) Provider() string { return "mock" }
func (m *mockCompleter) Model() string    { return "mock" }

type fixture struct {
	svc       *Service
	store     storage.Storage
	completer *mockCompleter
	cfg       *config.Config
	repoID    string // indexed, with searchable chunks
	bareID    string // indexed, no chunks or index
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
		TotalFiles:      12, TotalChunks: 3,
	}
	require.NoError(t, store.CreateRepository(ctx, repo))

	index, err := vectorindex.New(2)
	require.NoError(t, err)
	vectors := [][]float32{{1, 0}, {0.9, 0.44}, {0.5, 0.87}}
	var chunks []*types.CodeChunk
	for i, vec := range vectors {
		chunk := &types.CodeChunk{
			ID: uuid.NewString(), RepoID: repo.ID,
			FilePath:  fmt.Sprintf("pkg/file%d.py", i),
			StartLine: 1, EndLine: 20,
			SymbolType: "function", SymbolName: fmt.Sprintf("fn%d", i),
			Language: "python", Content: fmt.Sprintf("def fn%d(): pass", i),
			TokenCount: 5, EmbeddingIndex: i,
		}
		chunks = append(chunks, chunk)
		require.NoError(t, index.Add(chunk.ID, vec))
	}
	require.NoError(t, store.InsertChunks(ctx, chunks))
	require.NoError(t, indexStore.Save(repo.ID, index))

	bare := &types.Repository{
		ID:      uuid.NewString(),
		RepoURL: "https://github.com/acme/empty",
		Owner:   "acme", Name: "empty",
		Status: types.StatusIndexed,
	}
	require.NoError(t, store.CreateRepository(ctx, bare))

	embedder := &stubEmbedder{vector: []float32{1, 0}}
	lc := lifecycle.New(store, log)
	searchSvc := search.New(store, lc, indexStore, embedder, log)
	completer := &mockCompleter{
		reply: `{"answer": "fn0 is defined in pkg/file0.py.", "references": [{"file": "pkg/file0.py", "lines": "1-20", "symbol": "function:fn0"}], "confidence": 0.9}`,
	}
	svc := New(store, lc, searchSvc, completer, &cfg, log)

	return &fixture{
		svc: svc, store: store, completer: completer, cfg: &cfg,
		repoID: repo.ID, bareID: bare.ID,
	}
}

func TestCreateSession(t *testing.T) {
	f := setupFixture(t)

	session, err := f.svc.CreateSession(context.Background(), f.repoID, "the parser")
	require.NoError(t, err)

	assert.NotEmpty(t, session.ID)
	assert.Equal(t, f.repoID, session.RepoID)
	assert.Contains(t, session.RepoContextSummary, "acme/widgets")
	assert.Contains(t, session.RepoContextSummary, "python")
	assert.Contains(t, session.RepoContextSummary, "the parser")
	assert.Empty(t, session.RollingSummary)
}

func TestCreateSession_RequiresIndexedRepo(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	repo := &types.Repository{
		ID:      uuid.NewString(),
		RepoURL: "https://github.com/acme/raw",
		Owner:   "acme", Name: "raw",
		Status: types.StatusCloned,
	}
	require.NoError(t, f.store.CreateRepository(ctx, repo))

	_, err := f.svc.CreateSession(ctx, repo.ID, "")
	var notReady *types.NotReadyError
	assert.ErrorAs(t, err, &notReady)
}

func TestGetSession_Expired(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	session, err := f.svc.CreateSession(ctx, f.repoID, "")
	require.NoError(t, err)

	session.LastActivityAt = time.Now().UTC().Add(-25 * time.Hour)
	require.NoError(t, f.store.UpdateSession(ctx, session))

	_, err = f.svc.GetSession(ctx, session.ID)
	var expired *types.SessionExpiredError
	assert.ErrorAs(t, err, &expired)
}

func TestGetSession_Missing(t *testing.T) {
	f := setupFixture(t)

	_, err := f.svc.GetSession(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestAsk_GroundedAnswer(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	session, err := f.svc.CreateSession(ctx, f.repoID, "")
	require.NoError(t, err)

	answer, err := f.svc.Ask(ctx, session.ID, "where is fn0 defined?")
	require.NoError(t, err)

	assert.True(t, answer.Answered)
	assert.Equal(t, "fn0 is defined in pkg/file0.py.", answer.Answer)
	assert.InDelta(t, 0.9, answer.Confidence, 0.001)
	require.Len(t, answer.References, 1)
	assert.Equal(t, "pkg/file0.py", answer.References[0].File)
	assert.Equal(t, 1, f.completer.calls)

	// The user prompt carries the retrieved chunks and the question
	prompt := f.completer.lastMessages[len(f.completer.lastMessages)-1]
	assert.Equal(t, "user", prompt.Role)
	assert.Contains(t, prompt.Content, "pkg/file0.py")
	assert.Contains(t, prompt.Content, "where is fn0 defined?")
}

func TestAsk_NoContextRefusesWithoutCompleter(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	session, err := f.svc.CreateSession(ctx, f.bareID, "")
	require.NoError(t, err)

	answer, err := f.svc.Ask(ctx, session.ID, "what does the scheduler do?")
	require.NoError(t, err)

	assert.False(t, answer.Answered)
	assert.Equal(t, RefusalText, answer.Answer)
	assert.Zero(t, answer.Confidence)
	assert.Empty(t, answer.References)
	assert.Zero(t, f.completer.calls, "completer must not run without grounding context")

	// Both turns are still recorded
	messages, err := f.store.ListMessages(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, types.RoleUser, messages[0].Role)
	assert.Equal(t, RefusalText, messages[1].Content)
}

func TestAsk_ModelDeclaresUnanswered(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	f.completer.reply = `{"answer": "The context does not cover the scheduler.", "answered": false, "references": [], "confidence": 0.1}`

	session, err := f.svc.CreateSession(ctx, f.repoID, "")
	require.NoError(t, err)

	answer, err := f.svc.Ask(ctx, session.ID, "what does the scheduler do?")
	require.NoError(t, err)

	// The model's own answered flag is surfaced, not overwritten
	assert.False(t, answer.Answered)
	assert.Equal(t, "The context does not cover the scheduler.", answer.Answer)
	assert.InDelta(t, 0.1, answer.Confidence, 0.001)
	assert.Equal(t, 1, f.completer.calls)
}

func TestAsk_AnsweredDefaultsTrueWhenOmitted(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	// Fixture reply carries no answered field

	session, err := f.svc.CreateSession(ctx, f.repoID, "")
	require.NoError(t, err)

	answer, err := f.svc.Ask(ctx, session.ID, "where is fn0 defined?")
	require.NoError(t, err)
	assert.True(t, answer.Answered)
}

func TestAsk_ContextBlocksAreFenced(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	session, err := f.svc.CreateSession(ctx, f.repoID, "")
	require.NoError(t, err)

	_, err = f.svc.Ask(ctx, session.ID, "where is fn0 defined?")
	require.NoError(t, err)

	prompt := f.completer.lastMessages[len(f.completer.lastMessages)-1]
	assert.Contains(t, prompt.Content, "```python\ndef fn0(): pass\n```")
}

func TestAsk_FallbackOnMalformedReply(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	f.completer.reply = "fn0 lives in pkg/file0.py, plain and simple."

	session, err := f.svc.CreateSession(ctx, f.repoID, "")
	require.NoError(t, err)

	answer, err := f.svc.Ask(ctx, session.ID, "where is fn0?")
	require.NoError(t, err)

	assert.True(t, answer.Answered)
	assert.Equal(t, f.completer.reply, answer.Answer)
	assert.InDelta(t, fallbackConfidence, answer.Confidence, 0.001)
	require.NotEmpty(t, answer.References)
	assert.Equal(t, "pkg/file0.py", answer.References[0].File)
}

func TestAsk_PersistsTurnsInOrder(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	session, err := f.svc.CreateSession(ctx, f.repoID, "")
	require.NoError(t, err)

	_, err = f.svc.Ask(ctx, session.ID, "first question")
	require.NoError(t, err)
	_, err = f.svc.Ask(ctx, session.ID, "second question")
	require.NoError(t, err)

	messages, err := f.store.ListMessages(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 4)
	assert.Equal(t, "first question", messages[0].Content)
	assert.Equal(t, types.RoleAssistant, messages[1].Role)
	assert.Equal(t, "second question", messages[2].Content)
	assert.Equal(t, types.RoleAssistant, messages[3].Role)
}

func TestAsk_RollingSummaryAfterFourMessages(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	session, err := f.svc.CreateSession(ctx, f.repoID, "")
	require.NoError(t, err)

	_, err = f.svc.Ask(ctx, session.ID, "first question")
	require.NoError(t, err)

	refreshed, err := f.svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, refreshed.RollingSummary, "two messages is below the summary threshold")

	_, err = f.svc.Ask(ctx, session.ID, "second question")
	require.NoError(t, err)

	refreshed, err = f.svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Contains(t, refreshed.RollingSummary, "Q: first question")
	assert.Contains(t, refreshed.RollingSummary, "Q: second question")
	assert.Contains(t, refreshed.RollingSummary, "A: ")
}

func TestRollingSummary_TrimsToTokenBudget(t *testing.T) {
	long := ""
	for i := 0; i < 60; i++ {
		long += "repeated words fill the message body "
	}
	var messages []*types.TutorMessage
	for i := 0; i < 6; i++ {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		messages = append(messages, &types.TutorMessage{Role: role, Content: long})
	}

	summary := rollingSummary(messages, 50)
	assert.NotEmpty(t, summary)
	assert.LessOrEqual(t, 1, len(summary))
	assert.True(t, len(summary) < len(long), "summary must be trimmed well below raw content")
}

func TestSnippetTruncation(t *testing.T) {
	long := ""
	for i := 0; i < 30; i++ {
		long += "abcdefghij"
	}
	got := snippet(long)
	assert.Len(t, []rune(got), snippetLen+3)
	assert.True(t, len(got) < len(long))

	assert.Equal(t, "short text", snippet("  short   text "))
}

func TestAsk_EmptyQuestion(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	session, err := f.svc.CreateSession(ctx, f.repoID, "")
	require.NoError(t, err)

	_, err = f.svc.Ask(ctx, session.ID, "   ")
	assert.Error(t, err)
	assert.Zero(t, f.completer.calls)
}
