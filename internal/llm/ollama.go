package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// ProviderOllama identifies the local Ollama backend
	ProviderOllama = "ollama"

	// DefaultOllamaBaseURL is the standard local Ollama endpoint
	DefaultOllamaBaseURL = "http://localhost:11434"

	// DefaultBatchSize bounds a single embedding request
	DefaultBatchSize = 50
	// MaxBatchSize is the hard per-request ceiling
	MaxBatchSize = 100
)

// OllamaEmbedder generates embeddings via a local Ollama server
type OllamaEmbedder struct {
	baseURL    string
	model      string
	dim        int
	httpClient *http.Client
	cache      *Cache
}

// NewOllamaEmbedder creates an Ollama-backed embedder
func NewOllamaEmbedder(baseURL, model string, cache *Cache) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	return &OllamaEmbedder{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		cache:      cache,
	}
}

func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	vectors, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (o *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateBatch(texts, MaxBatchSize); err != nil {
		return nil, err
	}

	// Serve what we can from cache; collect the misses
	vectors := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if o.cache != nil {
			if vec, ok := o.cache.Get(ComputeHash(text)); ok {
				vectors[i] = vec
				continue
			}
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) > 0 {
		config := DefaultRetryConfig()
		fetched, err := retryWithBackoff(ctx, config, func() ([][]float32, error) {
			return o.callEmbedAPI(ctx, missing)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
		}
		if len(fetched) != len(missing) {
			return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(fetched), len(missing))
		}
		for i, vec := range fetched {
			vectors[missingIdx[i]] = vec
			if o.cache != nil {
				o.cache.Set(ComputeHash(missing[i]), vec)
			}
		}
	}

	if o.dim == 0 && len(vectors) > 0 {
		o.dim = len(vectors[0])
	}
	return vectors, nil
}

func (o *OllamaEmbedder) callEmbedAPI(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(map[string]any{
		"model": o.model,
		"input": texts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return apiResp.Embeddings, nil
}

func (o *OllamaEmbedder) Dimension() int   { return o.dim }
func (o *OllamaEmbedder) Provider() string { return ProviderOllama }
func (o *OllamaEmbedder) Model() string    { return o.model }

// OllamaCompleter generates chat completions via a local Ollama server
type OllamaCompleter struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaCompleter creates an Ollama-backed completer
func NewOllamaCompleter(baseURL, model string) *OllamaCompleter {
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	return &OllamaCompleter{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 300 * time.Second},
	}
}

func (o *OllamaCompleter) Complete(ctx context.Context, messages []Message, maxTokens int, temperature float64) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("%w: no messages", ErrInvalidInput)
	}

	body, err := json.Marshal(map[string]any{
		"model":    o.model,
		"messages": messages,
		"stream":   false,
		"options": map[string]any{
			"num_predict": maxTokens,
			"temperature": temperature,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	config := DefaultRetryConfig()
	return retryWithBackoff(ctx, config, func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := o.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("api call: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			return "", fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
		}

		var apiResp struct {
			Message Message `json:"message"`
			Done    bool    `json:"done"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		return apiResp.Message.Content, nil
	})
}

func (o *OllamaCompleter) Provider() string { return ProviderOllama }
func (o *OllamaCompleter) Model() string    { return o.model }
