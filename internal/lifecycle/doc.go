// Package lifecycle enforces the repository processing state machine:
// CREATED → CLONED → STRUCTURED → INDEXED → DOCS_GENERATED → READY, with
// FAILED reachable from every state and FAILED → CREATED as the retry
// path. It also gates read operations on the minimum state they require.
package lifecycle
