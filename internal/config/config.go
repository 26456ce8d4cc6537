// Package config provides configuration loading and structs for the semcache server and CLI.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug       bool             `yaml:"debug"`
	Server      ServerConfig     `yaml:"server"`
	Storage     StorageConfig    `yaml:"storage"`
	Cache       CacheConfig      `yaml:"cache"`
	Embedding   EmbeddingConfig  `yaml:"embedding"`
	Generation  GenerationConfig `yaml:"generation"`
	Retry       RetryConfig      `yaml:"retry"`
	WatchConfig bool             `yaml:"watch_config"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig selects the record store backend.
type StorageConfig struct {
	Type         string `yaml:"type"` // sqlite, postgres, memory
	DatabasePath string `yaml:"database_path"`
	PostgresDSN  string `yaml:"postgres_dsn"`
	TablePrefix  string `yaml:"table_prefix"`
}

// CacheConfig holds the similarity gate and index settings.
type CacheConfig struct {
	SimilarityThreshold float64    `yaml:"similarity_threshold"`
	TopK                int        `yaml:"top_k"`
	TTLSeconds          int        `yaml:"ttl_seconds"`
	TTLMode             string     `yaml:"ttl_mode"` // collection, record
	EmbeddingDimension  int        `yaml:"embedding_dimension"`
	IndexType           string     `yaml:"index_type"` // hnsw, exact
	InitialCapacity     int        `yaml:"initial_capacity"`
	CapacityIncrement   int        `yaml:"capacity_increment"`
	HNSW                HNSWConfig `yaml:"hnsw"`
}

// TTL returns the configured expiry as a duration; zero disables expiry.
func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// HNSWConfig tunes the HNSW graph.
type HNSWConfig struct {
	M              int `yaml:"m"`
	EfConstruction int `yaml:"ef_construction"`
	EfSearch       int `yaml:"ef_search"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"` // openai, onnx, mock
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"api_key"`
	APIURL     string        `yaml:"api_url"`
	Dimensions int           `yaml:"dimensions"`
	ModelPath  string        `yaml:"model_path"`
	MaxTokens  int           `yaml:"max_tokens"`
	CacheSize  int           `yaml:"cache_size"`
	Timeout    time.Duration `yaml:"timeout"`
}

// GenerationConfig selects the generative provider used on misses.
type GenerationConfig struct {
	Provider     string        `yaml:"provider"` // openai, anthropic, mock
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"api_key"`
	APIURL       string        `yaml:"api_url"`
	PromptPrefix string        `yaml:"prompt_prefix"`
	MaxTokens    int           `yaml:"max_tokens"`
	Timeout      time.Duration `yaml:"timeout"`
}

// RetryConfig configures provider retries. Zero MaxRetries disables them.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// Load reads and parses the config file at path, applies env overrides and defaults, and
// expands paths. Returns an error if the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ApplyEnv fills empty secrets from the environment.
func ApplyEnv(cfg *Config) {
	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider == "openai" {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Generation.APIKey == "" {
		switch cfg.Generation.Provider {
		case "openai":
			cfg.Generation.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			cfg.Generation.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if cfg.Storage.PostgresDSN == "" {
		cfg.Storage.PostgresDSN = os.Getenv("SEMCACHE_POSTGRES_DSN")
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	cc := c.Cache
	if math.IsNaN(cc.SimilarityThreshold) || cc.SimilarityThreshold <= 0 || cc.SimilarityThreshold > 1 {
		return fmt.Errorf("cache.similarity_threshold must be in (0, 1], got %v", cc.SimilarityThreshold)
	}
	if cc.TopK <= 0 {
		return fmt.Errorf("cache.top_k must be positive, got %d", cc.TopK)
	}
	if cc.TTLSeconds < 0 {
		return fmt.Errorf("cache.ttl_seconds must not be negative, got %d", cc.TTLSeconds)
	}
	switch cc.TTLMode {
	case "collection", "record":
	default:
		return fmt.Errorf("cache.ttl_mode must be collection or record, got %q", cc.TTLMode)
	}
	if cc.EmbeddingDimension < 0 {
		return fmt.Errorf("cache.embedding_dimension must not be negative, got %d", cc.EmbeddingDimension)
	}
	switch cc.IndexType {
	case "hnsw", "exact":
	default:
		return fmt.Errorf("cache.index_type must be hnsw or exact, got %q", cc.IndexType)
	}
	if cc.InitialCapacity <= 0 || cc.CapacityIncrement <= 0 {
		return fmt.Errorf("cache.initial_capacity and cache.capacity_increment must be positive")
	}
	switch c.Storage.Type {
	case "sqlite", "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for postgres storage")
		}
	default:
		return fmt.Errorf("storage.type must be sqlite, postgres or memory, got %q", c.Storage.Type)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative, got %d", c.Retry.MaxRetries)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
