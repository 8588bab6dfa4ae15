package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderConfig configures one model capability endpoint
type ProviderConfig struct {
	Provider string `yaml:"provider"` // "ollama" or "openai"
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
}

// Config holds all tunables. It is constructed once at startup and passed
// by handle to every component that needs it.
type Config struct {
	DataDir      string `yaml:"data_dir"`
	DatabasePath string `yaml:"database_path"`

	// Repository limits
	MaxRepoSizeMB int64 `yaml:"max_repo_size_mb"`
	MaxFileSizeMB int64 `yaml:"max_file_size_mb"`
	MaxFiles      int   `yaml:"max_files"`
	MaxChunks     int   `yaml:"max_chunks"`

	// Vector search
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	SearchTopK          int     `yaml:"search_top_k"`

	// Tutor
	MaxConversationTokens  int `yaml:"max_conversation_tokens"`
	MaxConversationHistory int `yaml:"max_conversation_history"`
	SessionTTLHours        int `yaml:"session_ttl_hours"`

	// Worker
	WorkerPollSeconds int `yaml:"worker_poll_seconds"`
	WorkerConcurrency int `yaml:"worker_concurrency"`

	Embedding  ProviderConfig `yaml:"embedding"`
	Completion ProviderConfig `yaml:"completion"`
}

// Default returns the configuration used when no file or env overrides exist
func Default() Config {
	return Config{
		DataDir:                "./data",
		MaxRepoSizeMB:          200,
		MaxFileSizeMB:          2,
		MaxFiles:               10000,
		MaxChunks:              50000,
		SimilarityThreshold:    0.65,
		SearchTopK:             10,
		MaxConversationTokens:  500,
		MaxConversationHistory: 5,
		SessionTTLHours:        24,
		WorkerPollSeconds:      5,
		WorkerConcurrency:      2,
		Embedding: ProviderConfig{
			Provider: "ollama",
			BaseURL:  "http://localhost:11434",
			Model:    "nomic-embed-text",
		},
		Completion: ProviderConfig{
			Provider: "ollama",
			BaseURL:  "http://localhost:11434",
			Model:    "qwen2.5-coder",
		},
	}
}

// Load reads the optional YAML file at path, then applies environment
// variable overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.DataDir, "repotutor.db")
	}

	return cfg, nil
}

// applyEnv overrides fields from REPOTUTOR_* environment variables
func (c *Config) applyEnv() {
	if v := os.Getenv("REPOTUTOR_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("REPOTUTOR_DB_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("REPOTUTOR_MAX_REPO_SIZE_MB"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxRepoSizeMB = n
		}
	}
	if v := os.Getenv("REPOTUTOR_SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.SimilarityThreshold = f
		}
	}
	if v := os.Getenv("REPOTUTOR_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.WorkerConcurrency = n
		}
	}
	if v := os.Getenv("REPOTUTOR_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("REPOTUTOR_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("REPOTUTOR_EMBEDDING_BASE_URL"); v != "" {
		c.Embedding.BaseURL = v
	}
	if v := os.Getenv("REPOTUTOR_COMPLETION_PROVIDER"); v != "" {
		c.Completion.Provider = v
	}
	if v := os.Getenv("REPOTUTOR_COMPLETION_MODEL"); v != "" {
		c.Completion.Model = v
	}
	if v := os.Getenv("REPOTUTOR_COMPLETION_BASE_URL"); v != "" {
		c.Completion.BaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
			c.Embedding.APIKey = v
		}
		if c.Completion.Provider == "openai" && c.Completion.APIKey == "" {
			c.Completion.APIKey = v
		}
	}
}

// ReposDir is where cloned repositories live, keyed by repository ID
func (c *Config) ReposDir() string {
	return filepath.Join(c.DataDir, "repos")
}

// IndexesDir is where vector index artifacts live, keyed by repository ID
func (c *Config) IndexesDir() string {
	return filepath.Join(c.DataDir, "indexes")
}

// MaxRepoSizeBytes returns the clone size ceiling in bytes
func (c *Config) MaxRepoSizeBytes() int64 {
	return c.MaxRepoSizeMB * 1024 * 1024
}

// MaxFileSizeBytes returns the single-file size ceiling in bytes
func (c *Config) MaxFileSizeBytes() int64 {
	return c.MaxFileSizeMB * 1024 * 1024
}

// SessionTTL returns the tutor session expiry as a duration
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// WorkerPollInterval returns the queue polling interval
func (c *Config) WorkerPollInterval() time.Duration {
	return time.Duration(c.WorkerPollSeconds) * time.Second
}

// EnsureDirs creates the storage layout under DataDir
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.ReposDir(), c.IndexesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
