// Package ingest registers repositories and runs the first pipeline stage:
// shallow clone, size enforcement, and structure analysis (file counts and
// primary language detection).
package ingest
