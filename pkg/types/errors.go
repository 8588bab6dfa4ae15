package types

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages
var (
	// ErrNotFound is returned when a repository, job, session, or chunk
	// does not exist
	ErrNotFound = errors.New("not found")

	// ErrJobNotPending is returned when starting a job that has already
	// been started or finished
	ErrJobNotPending = errors.New("job is not pending")
)

// InvalidTransitionError reports an illegal lifecycle move
type InvalidTransitionError struct {
	From RepoStatus
	To   RepoStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// NotReadyError reports an operation attempted before its required state
type NotReadyError struct {
	RepoID    string
	Operation string
	Current   RepoStatus
	Required  RepoStatus
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("repository %s not ready for %s: current %s, required %s",
		e.RepoID, e.Operation, e.Current, e.Required)
}

// InvalidSourceError reports a repository reference that cannot be parsed
type InvalidSourceError struct {
	URL    string
	Reason string
}

func (e *InvalidSourceError) Error() string {
	return fmt.Sprintf("invalid repository source %q: %s", e.URL, e.Reason)
}

// SourceFetchError reports a transport failure while fetching a repository
type SourceFetchError struct {
	URL string
	Err error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.URL, e.Err)
}

func (e *SourceFetchError) Unwrap() error { return e.Err }

// TooLargeError reports a fetched repository exceeding the size ceiling
type TooLargeError struct {
	SizeBytes  int64
	LimitBytes int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("repository size %d bytes exceeds limit %d bytes",
		e.SizeBytes, e.LimitBytes)
}

// SessionExpiredError reports a tutor session past its TTL
type SessionExpiredError struct {
	SessionID string
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("session %s has expired", e.SessionID)
}
