package types

import "time"

// TutorSession scopes a grounded Q&A conversation to one repository
type TutorSession struct {
	ID     string
	RepoID string

	// RepoContextSummary is static for the session, built at creation
	RepoContextSummary string

	// RollingSummary is a bounded digest of the conversation so far
	RollingSummary string

	CreatedAt      time.Time
	LastActivityAt time.Time
}

// Expired reports whether the session has been inactive longer than ttl
func (s *TutorSession) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.LastActivityAt) > ttl
}

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TutorMessage is one append-only turn in a tutor session
type TutorMessage struct {
	ID        string
	SessionID string
	Role      string
	Content   string

	// References holds the citations for assistant turns
	References []CodeReference

	CreatedAt time.Time
}

// CodeReference cites a file and line range backing an answer claim
type CodeReference struct {
	File   string `json:"file"`
	Lines  string `json:"lines"`
	Symbol string `json:"symbol,omitempty"`
}

// Answer is the structured result of a tutor question. AnswerNotFound is a
// successful outcome distinguished only by Answered=false, never an error.
type Answer struct {
	SessionID  string          `json:"session_id"`
	Question   string          `json:"question"`
	Answer     string          `json:"answer"`
	References []CodeReference `json:"references"`
	Confidence float64         `json:"confidence"`
	Answered   bool            `json:"answered"`
}
