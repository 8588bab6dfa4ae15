package tutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/repolab/repotutor/internal/chunker"
	"github.com/repolab/repotutor/internal/config"
	"github.com/repolab/repotutor/internal/lifecycle"
	"github.com/repolab/repotutor/internal/llm"
	"github.com/repolab/repotutor/internal/search"
	"github.com/repolab/repotutor/internal/storage"
	"github.com/repolab/repotutor/pkg/types"
)

const (
	// RefusalText is the fixed reply when no grounded context exists for
	// a question. The completer is never consulted in that case.
	RefusalText = "This could not be found in the repository."

	// contextResults is how many search hits ground an answer
	contextResults = 5

	// fallbackConfidence is assigned when the model reply is not valid
	// JSON and the raw text is used as the answer
	fallbackConfidence = 0.5
	// fallbackReferences caps the search-derived references attached to
	// a fallback answer
	fallbackReferences = 3

	// summaryWindow is how many trailing messages feed the rolling
	// summary digest
	summaryWindow = 6
	// summaryMinMessages is the threshold below which no summary is kept
	summaryMinMessages = 4
	// snippetLen truncates each digest entry
	snippetLen = 100

	answerMaxTokens   = 1024
	answerTemperature = 0.2
)

// Service answers questions about indexed repositories, grounded strictly
// in retrieved code context.
type Service struct {
	store     storage.Storage
	lifecycle *lifecycle.Service
	search    *search.Service
	completer llm.Completer
	cfg       *config.Config
	log       *slog.Logger
}

// New creates a tutor service.
func New(store storage.Storage, lc *lifecycle.Service, searchSvc *search.Service,
	completer llm.Completer, cfg *config.Config, log *slog.Logger) *Service {
	return &Service{
		store:     store,
		lifecycle: lc,
		search:    searchSvc,
		completer: completer,
		cfg:       cfg,
		log:       log,
	}
}

// CreateSession opens a tutoring session on an indexed repository. The
// optional focus narrows the session's framing but not its retrieval.
func (s *Service) CreateSession(ctx context.Context, repoID, focus string) (*types.TutorSession, error) {
	repo, err := s.lifecycle.CheckReadiness(ctx, repoID, "session")
	if err != nil {
		return nil, err
	}

	session := &types.TutorSession{
		ID:                 uuid.NewString(),
		RepoID:             repo.ID,
		RepoContextSummary: buildContextSummary(repo, focus),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// GetSession returns a session, enforcing the idle TTL. An expired session
// returns *types.SessionExpiredError.
func (s *Service) GetSession(ctx context.Context, id string) (*types.TutorSession, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Expired(time.Now().UTC(), s.cfg.SessionTTL()) {
		return nil, &types.SessionExpiredError{SessionID: id}
	}
	return session, nil
}

// Ask answers a question in a session. Retrieval runs first; with no
// grounded context the fixed refusal is returned and the completer is not
// called. Both turns are persisted, the user's before the assistant's.
func (s *Service) Ask(ctx context.Context, sessionID, question string) (*types.Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("question cannot be empty")
	}

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.lifecycle.CheckReadiness(ctx, session.RepoID, "ask"); err != nil {
		return nil, err
	}

	resp, err := s.search.Search(ctx, session.RepoID, question, search.Options{
		Limit:    contextResults,
		MinScore: float32(s.cfg.SimilarityThreshold),
	})
	if err != nil {
		return nil, err
	}

	history, err := s.store.ListMessages(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	answer := &types.Answer{
		SessionID: session.ID,
		Question:  question,
	}

	if len(resp.Results) == 0 {
		answer.Answer = RefusalText
		answer.Confidence = 0.0
		answer.Answered = false
	} else {
		parsed, err := s.complete(ctx, session, history, question, resp.Results)
		if err != nil {
			return nil, err
		}
		answer.Answer = parsed.Answer
		answer.References = parsed.References
		answer.Confidence = parsed.Confidence
		answer.Answered = parsed.Answered
	}

	if err := s.persistExchange(ctx, session, question, answer, history); err != nil {
		return nil, err
	}

	s.log.Info("tutor answered",
		"session_id", session.ID, "answered", answer.Answered, "confidence", answer.Confidence)
	return answer, nil
}

// completion is the JSON shape the model is instructed to produce
type completion struct {
	Answer     string                `json:"answer"`
	Answered   bool                  `json:"answered"`
	References []types.CodeReference `json:"references"`
	Confidence float64               `json:"confidence"`
}

func (s *Service) complete(ctx context.Context, session *types.TutorSession,
	history []*types.TutorMessage, question string, results []search.Result) (*completion, error) {

	messages := []llm.Message{{Role: "system", Content: systemPrompt(session)}}

	// Recent turns, oldest first, bounded by the configured window
	recent := history
	if max := s.cfg.MaxConversationHistory; len(recent) > max {
		recent = recent[len(recent)-max:]
	}
	for _, msg := range recent {
		messages = append(messages, llm.Message{Role: msg.Role, Content: msg.Content})
	}

	messages = append(messages, llm.Message{
		Role:    "user",
		Content: questionPrompt(question, results),
	})

	raw, err := s.completer.Complete(ctx, messages, answerMaxTokens, answerTemperature)
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	if parsed, ok := parseCompletion(raw); ok {
		return parsed, nil
	}

	// Model ignored the JSON contract: keep its text, attribute the top
	// retrieval hits as references
	refs := make([]types.CodeReference, 0, fallbackReferences)
	for i, r := range results {
		if i >= fallbackReferences {
			break
		}
		refs = append(refs, types.CodeReference{
			File:   r.FilePath,
			Lines:  fmt.Sprintf("%d-%d", r.StartLine, r.EndLine),
			Symbol: symbolLabel(r),
		})
	}
	return &completion{
		Answer:     strings.TrimSpace(raw),
		Answered:   true,
		References: refs,
		Confidence: fallbackConfidence,
	}, nil
}

// parseCompletion attempts to decode the model reply as the contracted
// JSON object, tolerating markdown code fences.
func parseCompletion(raw string) (*completion, bool) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	// answered decodes through a pointer so a missing field reads as true
	var decoded struct {
		Answer     string                `json:"answer"`
		Answered   *bool                 `json:"answered"`
		References []types.CodeReference `json:"references"`
		Confidence float64               `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return nil, false
	}
	if decoded.Answer == "" {
		return nil, false
	}
	parsed := completion{
		Answer:     decoded.Answer,
		Answered:   decoded.Answered == nil || *decoded.Answered,
		References: decoded.References,
		Confidence: decoded.Confidence,
	}
	if parsed.Confidence < 0 {
		parsed.Confidence = 0
	}
	if parsed.Confidence > 1 {
		parsed.Confidence = 1
	}
	return &parsed, true
}

// persistExchange writes the user turn, then the assistant turn, then the
// refreshed rolling summary and activity timestamp.
func (s *Service) persistExchange(ctx context.Context, session *types.TutorSession,
	question string, answer *types.Answer, history []*types.TutorMessage) error {

	userMsg := &types.TutorMessage{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      types.RoleUser,
		Content:   question,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, userMsg); err != nil {
		return fmt.Errorf("failed to persist question: %w", err)
	}

	assistantMsg := &types.TutorMessage{
		ID:         uuid.NewString(),
		SessionID:  session.ID,
		Role:       types.RoleAssistant,
		Content:    answer.Answer,
		References: answer.References,
		CreatedAt:  userMsg.CreatedAt.Add(time.Millisecond),
	}
	if err := s.store.CreateMessage(ctx, assistantMsg); err != nil {
		return fmt.Errorf("failed to persist answer: %w", err)
	}

	full := append(append([]*types.TutorMessage{}, history...), userMsg, assistantMsg)
	session.RollingSummary = rollingSummary(full, s.cfg.MaxConversationTokens)
	session.LastActivityAt = time.Now().UTC()
	if err := s.store.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// rollingSummary digests the trailing question/answer turns into a compact
// "Q: …|A: …" line, trimmed from the front to the token budget. Short
// conversations carry no summary.
func rollingSummary(messages []*types.TutorMessage, maxTokens int) string {
	if len(messages) < summaryMinMessages {
		return ""
	}

	window := messages
	if len(window) > summaryWindow {
		window = window[len(window)-summaryWindow:]
	}

	var parts []string
	for _, msg := range window {
		prefix := "Q"
		if msg.Role == types.RoleAssistant {
			prefix = "A"
		}
		parts = append(parts, prefix+": "+snippet(msg.Content))
	}

	for len(parts) > 0 {
		joined := strings.Join(parts, "|")
		if chunker.EstimateTokens(joined) <= maxTokens {
			return joined
		}
		parts = parts[1:]
	}
	return ""
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= snippetLen {
		return text
	}
	return string(runes[:snippetLen]) + "..."
}

func symbolLabel(r search.Result) string {
	if r.SymbolType == "" || r.SymbolName == "" {
		return ""
	}
	return r.SymbolType + ":" + r.SymbolName
}

func buildContextSummary(repo *types.Repository, focus string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Repository %s/%s", repo.Owner, repo.Name)
	if repo.PrimaryLanguage != "" {
		fmt.Fprintf(&sb, ", primarily %s", repo.PrimaryLanguage)
	}
	fmt.Fprintf(&sb, ". %d files, %d indexed chunks.", repo.TotalFiles, repo.TotalChunks)
	if focus != "" {
		fmt.Fprintf(&sb, " Session focus: %s.", focus)
	}
	return sb.String()
}

// IsExpired reports whether err marks an expired or missing session.
func IsExpired(err error) bool {
	var expired *types.SessionExpiredError
	return errors.As(err, &expired)
}
