// Package mcp exposes the repository pipeline over the Model Context
// Protocol: ingestion, indexing, semantic search, tutoring, docs
// generation, and job inspection as stdio tools.
package mcp
