package config

import (
	"time"

	"github.com/dshills/climbrag/internal/embedcache"
	"github.com/dshills/climbrag/internal/embedder"
	"github.com/dshills/climbrag/internal/pipeline"
	"github.com/dshills/climbrag/internal/tokenizer"
)

// Default file names under the data directory
const (
	DefaultDataDir     = "data"
	DefaultCacheFile   = embedcache.FileName
	DefaultDatasetFile = "openbeta_routes.jsonl"
	DefaultDBFile      = "climbrag.db"
)

// DefaultConfig returns configuration with sensible defaults.
// These defaults are used when no config file exists or when
// config file is missing specific fields.
func DefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			Dir: DefaultDataDir,
		},
		Embedding: EmbeddingConfig{
			Encoding:       tokenizer.DefaultEncoding,
			TokenCeiling:   pipeline.DefaultTokenCeiling,
			FlushRatio:     pipeline.DefaultFlushRatio,
			MaxBatchInputs: pipeline.DefaultMaxBatchInputs,
			MaxRetries:     embedder.MaxRetries,
			Timeout:        embedder.DefaultTimeout,
			CacheSize:      embedder.DefaultCacheSize,
		},
		Index: IndexConfig{
			BatchSize: 500,
		},
		Progress: ProgressConfig{
			Interval: pipeline.DefaultProgressInterval,
		},
		Search: SearchConfig{
			DefaultLimit:       10,
			DefaultRadiusMiles: 50,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Merge merges loaded config with defaults.
// Values from loaded config take precedence over defaults.
// Returns a new Config with merged values.
func Merge(loaded, defaults *Config) *Config {
	return &Config{
		Data:      mergeDataConfig(loaded.Data, defaults.Data),
		Embedding: mergeEmbeddingConfig(loaded.Embedding, defaults.Embedding),
		Index:     mergeIndexConfig(loaded.Index, defaults.Index),
		Progress:  ProgressConfig{Interval: orDuration(loaded.Progress.Interval, defaults.Progress.Interval)},
		Search: SearchConfig{
			DefaultLimit:       orInt(loaded.Search.DefaultLimit, defaults.Search.DefaultLimit),
			DefaultRadiusMiles: orFloat(loaded.Search.DefaultRadiusMiles, defaults.Search.DefaultRadiusMiles),
		},
		Log: LogConfig{Level: orString(loaded.Log.Level, defaults.Log.Level)},
	}
}

func mergeDataConfig(loaded, defaults DataConfig) DataConfig {
	return DataConfig{
		Dir:         orString(loaded.Dir, defaults.Dir),
		DatasetFile: orString(loaded.DatasetFile, defaults.DatasetFile),
		DatasetURL:  orString(loaded.DatasetURL, defaults.DatasetURL),
		CacheFile:   orString(loaded.CacheFile, defaults.CacheFile),
	}
}

func mergeEmbeddingConfig(loaded, defaults EmbeddingConfig) EmbeddingConfig {
	return EmbeddingConfig{
		Provider:       orString(loaded.Provider, defaults.Provider),
		APIKey:         orString(loaded.APIKey, defaults.APIKey),
		Model:          orString(loaded.Model, defaults.Model),
		BaseURL:        orString(loaded.BaseURL, defaults.BaseURL),
		Dimension:      orInt(loaded.Dimension, defaults.Dimension),
		Encoding:       orString(loaded.Encoding, defaults.Encoding),
		TokenCeiling:   orInt(loaded.TokenCeiling, defaults.TokenCeiling),
		FlushRatio:     orFloat(loaded.FlushRatio, defaults.FlushRatio),
		MaxBatchInputs: orInt(loaded.MaxBatchInputs, defaults.MaxBatchInputs),
		MaxRetries:     orInt(loaded.MaxRetries, defaults.MaxRetries),
		Timeout:        orDuration(loaded.Timeout, defaults.Timeout),
		CacheSize:      orInt(loaded.CacheSize, defaults.CacheSize),
	}
}

func mergeIndexConfig(loaded, defaults IndexConfig) IndexConfig {
	result := IndexConfig{
		DBPath:    orString(loaded.DBPath, defaults.DBPath),
		BatchSize: orInt(loaded.BatchSize, defaults.BatchSize),
		Recreate:  defaults.Recreate,
	}
	if loaded.Recreate != nil {
		result.Recreate = loaded.Recreate
	}
	return result
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func orInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

func orFloat(v, def float64) float64 {
	if v != 0 {
		return v
	}
	return def
}

func orDuration(v, def time.Duration) time.Duration {
	if v != 0 {
		return v
	}
	return def
}
