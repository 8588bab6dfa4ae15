package types

import "time"

// RepoStatus represents a repository's position in the processing lifecycle
type RepoStatus string

const (
	StatusCreated       RepoStatus = "CREATED"
	StatusCloned        RepoStatus = "CLONED"
	StatusStructured    RepoStatus = "STRUCTURED"
	StatusIndexed       RepoStatus = "INDEXED"
	StatusDocsGenerated RepoStatus = "DOCS_GENERATED"
	StatusReady         RepoStatus = "READY"
	StatusFailed        RepoStatus = "FAILED"
)

// validTransitions maps each state to the set of states it may move to.
// FAILED is re-enterable to CREATED for explicit retry.
var validTransitions = map[RepoStatus][]RepoStatus{
	StatusCreated:       {StatusCloned, StatusFailed},
	StatusCloned:        {StatusStructured, StatusFailed},
	StatusStructured:    {StatusIndexed, StatusFailed},
	StatusIndexed:       {StatusDocsGenerated, StatusFailed},
	StatusDocsGenerated: {StatusReady, StatusFailed},
	StatusReady:         {StatusFailed},
	StatusFailed:        {StatusCreated},
}

// stateOrder defines the numeric progression of non-FAILED states
var stateOrder = map[RepoStatus]int{
	StatusCreated:       0,
	StatusCloned:        1,
	StatusStructured:    2,
	StatusIndexed:       3,
	StatusDocsGenerated: 4,
	StatusReady:         5,
	StatusFailed:        -1,
}

// Valid reports whether s is a known lifecycle state
func (s RepoStatus) Valid() bool {
	_, ok := stateOrder[s]
	return ok
}

// Order returns the numeric position of the state in the pipeline.
// FAILED and unknown states return -1.
func (s RepoStatus) Order() int {
	if order, ok := stateOrder[s]; ok {
		return order
	}
	return -1
}

// CanTransitionTo reports whether a move from s to target is allowed
func (s RepoStatus) CanTransitionTo(target RepoStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Repository is the root aggregate for an ingested source repository
type Repository struct {
	ID              string
	RepoURL         string
	Owner           string
	Name            string
	PrimaryLanguage string
	CommitHash      string
	Status          RepoStatus
	ErrorMessage    string

	// Aggregate statistics
	TotalFiles     int
	TotalSizeBytes int64
	TotalChunks    int

	// Generated documentation
	ReadmeContent       string
	ArchitectureContent string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanTransitionTo reports whether the repository may move to target
func (r *Repository) CanTransitionTo(target RepoStatus) bool {
	return r.Status.CanTransitionTo(target)
}

// HasReachedState reports whether the repository has progressed at least to
// required. A FAILED repository answers false regardless of prior progress.
func (r *Repository) HasReachedState(required RepoStatus) bool {
	if r.Status == StatusFailed {
		return false
	}
	return r.Status.Order() >= required.Order()
}
