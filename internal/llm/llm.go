package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderFailed    = errors.New("provider failed")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrNoProviderEnabled = errors.New("no provider configured")
)

// Message is a single turn in a chat exchange
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Embedder generates vector embeddings for text
type Embedder interface {
	// Embed generates a single embedding
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts. The result
	// preserves input order: result[i] embeds texts[i].
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimension, or 0 if no embedding
	// has been generated yet
	Dimension() int

	// Provider returns the provider name
	Provider() string

	// Model returns the model name
	Model() string
}

// Completer generates chat completions
type Completer interface {
	// Complete returns the assistant response for a conversation
	Complete(ctx context.Context, messages []Message, maxTokens int, temperature float64) (string, error)

	// Provider returns the provider name
	Provider() string

	// Model returns the model name
	Model() string
}

// Cache provides in-memory LRU caching of embeddings by content hash
type Cache struct {
	cache *lru.Cache[string, []float32]
}

// NewCache creates an embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000
	}
	cache, err := lru.New[string, []float32](maxLen)
	if err != nil {
		cache, _ = lru.New[string, []float32](10000)
	}
	return &Cache{cache: cache}
}

// Get retrieves a copy of a cached vector. The copy prevents caller
// mutations from polluting the cache.
func (c *Cache) Get(hash string) ([]float32, bool) {
	vec, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}
	cp := make([]float32, len(vec))
	copy(cp, vec)
	return cp, true
}

// Set stores a vector with automatic LRU eviction
func (c *Cache) Set(hash string, vec []float32) {
	c.cache.Add(hash, vec)
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// ComputeHash computes the SHA-256 hash of text for cache keys
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

func validateBatch(texts []string, maxBatch int) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	if len(texts) > maxBatch {
		return fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, maxBatch)
	}
	for i, text := range texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}
	return nil
}
