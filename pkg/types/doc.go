// Package types defines the shared domain model: the repository lifecycle
// state machine, jobs, code chunks, tutor sessions, and the error taxonomy.
//
// Repository is the root aggregate. Its Status moves through a fixed
// progression (CREATED → CLONED → STRUCTURED → INDEXED → DOCS_GENERATED →
// READY) with FAILED reachable from every state and re-enterable to CREATED
// for retry. Jobs, chunks, and sessions all hang off a repository and are
// deleted with it.
package types
