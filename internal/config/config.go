// Package config loads and validates coursedex configuration.
// Precedence: defaults < config file < environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete coursedex configuration.
type Config struct {
	Version    int              `yaml:"version"`
	DataDir    string           `yaml:"data_dir"`
	Store      StoreConfig      `yaml:"store"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Vector     VectorConfig     `yaml:"vector"`
	Sync       SyncConfig       `yaml:"sync"`
	LogLevel   string           `yaml:"log_level"`
	LogFile    string           `yaml:"log_file"`
}

// StoreConfig configures the primary course store.
type StoreConfig struct {
	// Path is the SQLite database file. Empty means <data_dir>/courses.db.
	Path string `yaml:"path"`

	// MaxBatchRetries bounds the unprocessed-key retry loop in BatchGet.
	MaxBatchRetries int `yaml:"max_batch_retries"`

	// CacheMB is the SQLite page cache size in MB.
	CacheMB int `yaml:"cache_mb"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "remote" (HTTP API) or "static" (hash-based).
	Provider string `yaml:"provider"`

	// Host is the remote embedding endpoint (default: http://localhost:11434).
	Host string `yaml:"host"`

	// Model is the embedding model identifier.
	Model string `yaml:"model"`

	// Dimensions is the embedding dimension D. Must match the vector index schema.
	Dimensions int `yaml:"dimensions"`

	// CacheSize is the number of query embeddings kept in the LRU cache.
	CacheSize int `yaml:"cache_size"`

	// Timeout is the per-request embedding timeout.
	Timeout time.Duration `yaml:"timeout"`
}

// VectorConfig configures the vector index.
type VectorConfig struct {
	// Path is the index file. Empty means <data_dir>/courses.hnsw.
	Path string `yaml:"path"`

	// M is HNSW max connections per layer.
	M int `yaml:"m"`

	// EfSearch is HNSW query-time search width.
	EfSearch int `yaml:"ef_search"`
}

// SyncConfig configures the store-to-index reconciliation.
type SyncConfig struct {
	// Workers bounds the backfill embedding pool.
	Workers int `yaml:"workers"`

	// PageSize is the scan page size during backfill.
	PageSize int `yaml:"page_size"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		DataDir: defaultDataDir(),
		Store: StoreConfig{
			MaxBatchRetries: 4,
			CacheMB:         64,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "remote",
			Host:       "http://localhost:11434",
			Model:      "courses-embed-v2",
			Dimensions: 1024,
			CacheSize:  1000,
			Timeout:    60 * time.Second,
		},
		Vector: VectorConfig{
			M:        16,
			EfSearch: 64,
		},
		Sync: SyncConfig{
			Workers:  4,
			PageSize: 500,
		},
		LogLevel: "info",
	}
}

// Load reads configuration from the given path, applying defaults and
// environment overrides. A missing file is not an error; defaults are used.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	// Best effort: absence of .env is the common case.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies COURSEDEX_* environment variables.
// Env vars take precedence over file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COURSEDEX_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("COURSEDEX_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("COURSEDEX_EMBED_HOST"); v != "" {
		cfg.Embeddings.Host = v
	}
	if v := os.Getenv("COURSEDEX_EMBED_MODEL"); v != "" {
		cfg.Embeddings.Model = v
	}
	if v := os.Getenv("COURSEDEX_EMBED_PROVIDER"); v != "" {
		cfg.Embeddings.Provider = v
	}
	if v := os.Getenv("COURSEDEX_EMBED_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embeddings.Dimensions = n
		}
	}
	if v := os.Getenv("COURSEDEX_SYNC_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.Workers = n
		}
	}
	if v := os.Getenv("COURSEDEX_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.Provider != "remote" && c.Embeddings.Provider != "static" {
		return fmt.Errorf("embeddings.provider must be \"remote\" or \"static\", got %q", c.Embeddings.Provider)
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("sync.workers must be positive, got %d", c.Sync.Workers)
	}
	if c.Sync.PageSize <= 0 {
		return fmt.Errorf("sync.page_size must be positive, got %d", c.Sync.PageSize)
	}
	if c.Store.MaxBatchRetries < 0 {
		return fmt.Errorf("store.max_batch_retries must not be negative, got %d", c.Store.MaxBatchRetries)
	}
	return nil
}

// StorePath resolves the primary store path.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.DataDir, "courses.db")
}

// VectorPath resolves the vector index path.
func (c *Config) VectorPath() string {
	if c.Vector.Path != "" {
		return c.Vector.Path
	}
	return filepath.Join(c.DataDir, "courses.hnsw")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".coursedex"
	}
	return filepath.Join(home, ".coursedex")
}
