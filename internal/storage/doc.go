// Package storage provides SQLite persistence for repositories, background
// jobs, code chunks, and tutor sessions.
//
// Two SQLite drivers are supported via build tags:
//
//	CGO_ENABLED=0 go build ./...                   (modernc.org/sqlite, default)
//	CGO_ENABLED=1 go build -tags sqlite_cgo ./...  (mattn/go-sqlite3)
//
// The database runs in WAL mode with a single writer connection. Schema
// changes go through versioned migrations in migrations.go; versions are
// compared with semver so partially upgraded databases converge.
//
// Embedding vectors are NOT stored here. They live in per-repository index
// artifacts managed by the vectorindex package; chunk rows carry only the
// slot position (embedding_index) linking them to the artifact.
package storage
