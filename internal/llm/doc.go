// Package llm abstracts the embedding and chat-completion providers behind
// two small interfaces, Embedder and Completer. Ollama (local) and OpenAI
// backends are provided; both retry transient failures with exponential
// backoff, and embedders share an LRU cache keyed by content hash so
// re-indexing unchanged text never re-calls the API.
package llm
