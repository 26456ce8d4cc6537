package config

import "time"

// DefaultConfigPath is where the CLI looks for a config file when --config is not given.
const DefaultConfigPath = "/usr/local/etc/semcache/config.yaml"

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "sqlite"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/semcache/data/db/cache.db"
	}
	if cfg.Storage.TablePrefix == "" {
		cfg.Storage.TablePrefix = "embeddings"
	}
	if cfg.Cache.SimilarityThreshold == 0 {
		cfg.Cache.SimilarityThreshold = 0.8
	}
	if cfg.Cache.TopK == 0 {
		cfg.Cache.TopK = 5
	}
	if cfg.Cache.TTLMode == "" {
		cfg.Cache.TTLMode = "collection"
	}
	if cfg.Cache.IndexType == "" {
		cfg.Cache.IndexType = "hnsw"
	}
	if cfg.Cache.InitialCapacity == 0 {
		cfg.Cache.InitialCapacity = 1000
	}
	if cfg.Cache.CapacityIncrement == 0 {
		cfg.Cache.CapacityIncrement = 1000
	}
	if cfg.Cache.HNSW.M == 0 {
		cfg.Cache.HNSW.M = 16
	}
	if cfg.Cache.HNSW.EfConstruction == 0 {
		cfg.Cache.HNSW.EfConstruction = 200
	}
	if cfg.Cache.HNSW.EfSearch == 0 {
		cfg.Cache.HNSW.EfSearch = 64
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "mock"
	}
	if cfg.Embedding.Provider == "onnx" {
		if cfg.Embedding.ModelPath == "" {
			cfg.Embedding.ModelPath = "/usr/local/var/semcache/data/models/all-MiniLM-L6-v2.onnx"
		}
		if cfg.Embedding.Dimensions == 0 {
			cfg.Embedding.Dimensions = 384
		}
		if cfg.Embedding.MaxTokens == 0 {
			cfg.Embedding.MaxTokens = 256
		}
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "mock"
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 1024
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 60 * time.Second
	}
	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = time.Second
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 30 * time.Second
	}
}
