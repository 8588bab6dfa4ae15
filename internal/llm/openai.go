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
	// ProviderOpenAI identifies the OpenAI (or compatible) backend
	ProviderOpenAI = "openai"

	// DefaultOpenAIBaseURL is the hosted OpenAI endpoint
	DefaultOpenAIBaseURL = "https://api.openai.com"
)

// OpenAIEmbedder generates embeddings via the OpenAI embeddings API
type OpenAIEmbedder struct {
	baseURL    string
	apiKey     string
	model      string
	dim        int
	httpClient *http.Client
	cache      *Cache
}

// NewOpenAIEmbedder creates an OpenAI-backed embedder
func NewOpenAIEmbedder(baseURL, apiKey, model string, cache *Cache) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key not set", ErrNoProviderEnabled)
	}
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	return &OpenAIEmbedder{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		cache:      cache,
	}, nil
}

func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	vectors, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (o *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateBatch(texts, MaxBatchSize); err != nil {
		return nil, err
	}

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

func (o *OpenAIEmbedder) callEmbedAPI(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(map[string]any{
		"model": o.model,
		"input": texts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

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
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d texts", len(apiResp.Data), len(texts))
	}

	// The API may return data out of order; the index field is authoritative
	vectors := make([][]float32, len(texts))
	for _, item := range apiResp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

func (o *OpenAIEmbedder) Dimension() int   { return o.dim }
func (o *OpenAIEmbedder) Provider() string { return ProviderOpenAI }
func (o *OpenAIEmbedder) Model() string    { return o.model }

// OpenAICompleter generates chat completions via the OpenAI chat API
type OpenAICompleter struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAICompleter creates an OpenAI-backed completer
func NewOpenAICompleter(baseURL, apiKey, model string) (*OpenAICompleter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key not set", ErrNoProviderEnabled)
	}
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	return &OpenAICompleter{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 300 * time.Second},
	}, nil
}

func (o *OpenAICompleter) Complete(ctx context.Context, messages []Message, maxTokens int, temperature float64) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("%w: no messages", ErrInvalidInput)
	}

	body, err := json.Marshal(map[string]any{
		"model":       o.model,
		"messages":    messages,
		"max_tokens":  maxTokens,
		"temperature": temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	config := DefaultRetryConfig()
	return retryWithBackoff(ctx, config, func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/chat/completions", bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+o.apiKey)

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
			Choices []struct {
				Message Message `json:"message"`
			} `json:"choices"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		if len(apiResp.Choices) == 0 {
			return "", fmt.Errorf("no choices in response")
		}
		return apiResp.Choices[0].Message.Content, nil
	})
}

func (o *OpenAICompleter) Provider() string { return ProviderOpenAI }
func (o *OpenAICompleter) Model() string    { return o.model }
