package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repolab/repotutor/internal/config"
)

func TestCache_RoundTripAndCopy(t *testing.T) {
	cache := NewCache(10)

	vec := []float32{1, 2, 3}
	hash := ComputeHash("hello")
	cache.Set(hash, vec)

	got, ok := cache.Get(hash)
	require.True(t, ok)
	assert.Equal(t, vec, got)

	// Mutating the returned slice must not affect the cached copy
	got[0] = 99
	again, ok := cache.Get(hash)
	require.True(t, ok)
	assert.Equal(t, float32(1), again[0])

	_, ok = cache.Get(ComputeHash("other"))
	assert.False(t, ok)
}

func TestComputeHash_Deterministic(t *testing.T) {
	assert.Equal(t, ComputeHash("abc"), ComputeHash("abc"))
	assert.NotEqual(t, ComputeHash("abc"), ComputeHash("abd"))
	assert.Len(t, ComputeHash("abc"), 64)
}

func TestOllamaEmbedder_Batch(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		calls.Add(1)

		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		embeddings := make([][]float32, len(req.Input))
		for i := range req.Input {
			embeddings[i] = []float32{float32(i), 1}
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings})
	}))
	defer server.Close()

	embedder := NewOllamaEmbedder(server.URL, "nomic-embed-text", NewCache(10))

	vectors, err := embedder.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0, 1}, vectors[0])
	assert.Equal(t, []float32{1, 1}, vectors[1])
	assert.Equal(t, 2, embedder.Dimension())

	// Second call for the same texts is served from cache
	_, err = embedder.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOllamaEmbedder_EmptyInput(t *testing.T) {
	embedder := NewOllamaEmbedder("http://localhost:1", "m", nil)

	_, err := embedder.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyText)

	_, err = embedder.EmbedBatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = embedder.EmbedBatch(context.Background(), []string{"ok", ""})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestOllamaEmbedder_RetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	embedder := NewOllamaEmbedder(server.URL, "m", nil)
	_, err := embedder.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.Equal(t, int32(MaxRetries), calls.Load())
}

func TestOllamaCompleter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)

		var req struct {
			Messages []Message      `json:"messages"`
			Stream   bool           `json:"stream"`
			Options  map[string]any `json:"options"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		json.NewEncoder(w).Encode(map[string]any{
			"message": Message{Role: "assistant", Content: "the answer"},
			"done":    true,
		})
	}))
	defer server.Close()

	completer := NewOllamaCompleter(server.URL, "qwen2.5-coder")
	out, err := completer.Complete(context.Background(), []Message{
		{Role: "system", Content: "be helpful"},
		{Role: "user", Content: "question"},
	}, 512, 0.2)
	require.NoError(t, err)
	assert.Equal(t, "the answer", out)
}

func TestOpenAIEmbedder_OrderByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		// Return data deliberately out of order
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{2, 2}, "index": 1},
				{"embedding": []float32{1, 1}, "index": 0},
			},
		})
	}))
	defer server.Close()

	embedder, err := NewOpenAIEmbedder(server.URL, "test-key", "text-embedding-3-small", nil)
	require.NoError(t, err)

	vectors, err := embedder.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1}, vectors[0])
	assert.Equal(t, []float32{2, 2}, vectors[1])
}

func TestOpenAICompleter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": Message{Role: "assistant", Content: "hello there"}},
			},
		})
	}))
	defer server.Close()

	completer, err := NewOpenAICompleter(server.URL, "test-key", "gpt-4o-mini")
	require.NoError(t, err)

	out, err := completer.Complete(context.Background(), []Message{
		{Role: "user", Content: "hi"},
	}, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello there", out)
}

func TestOpenAI_RequiresKey(t *testing.T) {
	_, err := NewOpenAIEmbedder("", "", "m", nil)
	assert.ErrorIs(t, err, ErrNoProviderEnabled)
	_, err = NewOpenAICompleter("", "", "m")
	assert.ErrorIs(t, err, ErrNoProviderEnabled)
}

func TestFactory(t *testing.T) {
	embedder, err := NewEmbedder(config.ProviderConfig{Provider: "ollama", Model: "nomic-embed-text"})
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, embedder.Provider())

	completer, err := NewCompleter(config.ProviderConfig{Provider: "openai", APIKey: "k", Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, completer.Provider())

	_, err = NewEmbedder(config.ProviderConfig{Provider: "quantum"})
	assert.Error(t, err)
	_, err = NewCompleter(config.ProviderConfig{Provider: "quantum"})
	assert.Error(t, err)
}
