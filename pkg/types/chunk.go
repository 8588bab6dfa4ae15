package types

import (
	"fmt"
	"time"
)

// CodeChunk is a persisted, line-addressed slice of a source file that has
// been embedded into the repository's vector index. Chunks are immutable
// once written; re-indexing creates a fresh set under a new index generation.
type CodeChunk struct {
	ID     string
	RepoID string

	// File location, 1-based inclusive line range
	FilePath  string
	StartLine int
	EndLine   int

	// Symbol metadata when the chunk maps to a detected definition
	SymbolType string // "function", "class", or empty
	SymbolName string
	Language   string

	Content    string
	TokenCount int

	// EmbeddingIndex is the slot of this chunk's vector inside the
	// repository's current index generation
	EmbeddingIndex int

	CreatedAt time.Time
}

// Location returns a path:line formatted position string
func (c *CodeChunk) Location() string {
	if c.StartLine == c.EndLine {
		return fmt.Sprintf("%s:%d", c.FilePath, c.StartLine)
	}
	return fmt.Sprintf("%s:%d-%d", c.FilePath, c.StartLine, c.EndLine)
}

// Symbol returns a type:name label, or just the name when untyped
func (c *CodeChunk) Symbol() string {
	if c.SymbolType != "" && c.SymbolName != "" {
		return c.SymbolType + ":" + c.SymbolName
	}
	return c.SymbolName
}

// Validate checks structural invariants before persistence
func (c *CodeChunk) Validate() error {
	if c.Content == "" {
		return fmt.Errorf("chunk content cannot be empty")
	}
	if c.StartLine <= 0 || c.EndLine <= 0 {
		return fmt.Errorf("line numbers must be positive")
	}
	if c.StartLine > c.EndLine {
		return fmt.Errorf("start line must be before or equal to end line")
	}
	if c.RepoID == "" {
		return fmt.Errorf("repository ID is required")
	}
	return nil
}
