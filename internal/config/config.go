package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/climbrag/internal/embedder"
	"github.com/dshills/climbrag/internal/pipeline"
)

// ConfigFileName is the config file looked up in the working directory
const ConfigFileName = "climbrag.yaml"

// Environment overrides
const (
	EnvDataDir      = "CLIMBRAG_DATA_DIR"
	EnvDataDirAlt   = "DATA_DIR"
	EnvDBPath       = "CLIMBRAG_DB_PATH"
	EnvProvider     = embedder.EnvProvider
	EnvAPIKey       = embedder.EnvOpenAIAPIKey
	EnvDatasetURL   = "CLIMBRAG_DATASET_URL"
	EnvTokenCeiling = "CLIMBRAG_TOKEN_CEILING"
	EnvLogLevel     = "CLIMBRAG_LOG_LEVEL"
)

// Config holds all climbrag configuration
type Config struct {
	Data      DataConfig      `yaml:"data"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Progress  ProgressConfig  `yaml:"progress"`
	Search    SearchConfig    `yaml:"search"`
	Log       LogConfig       `yaml:"log"`
}

// DataConfig locates the dataset and the embedding cache
type DataConfig struct {
	Dir         string `yaml:"dir"`
	DatasetFile string `yaml:"dataset_file"`
	DatasetURL  string `yaml:"dataset_url"`
	CacheFile   string `yaml:"cache_file"`
}

// EmbeddingConfig selects the provider and tunes batching
type EmbeddingConfig struct {
	Provider       string        `yaml:"provider"`
	APIKey         string        `yaml:"-"`
	Model          string        `yaml:"model"`
	BaseURL        string        `yaml:"base_url"`
	Dimension      int           `yaml:"dimension"`
	Encoding       string        `yaml:"encoding"`
	TokenCeiling   int           `yaml:"token_ceiling"`
	FlushRatio     float64       `yaml:"flush_ratio"`
	MaxBatchInputs int           `yaml:"max_batch_inputs"`
	MaxRetries     int           `yaml:"max_retries"`
	Timeout        time.Duration `yaml:"timeout"`
	CacheSize      int           `yaml:"cache_size"`
}

// IndexConfig holds route index settings
type IndexConfig struct {
	DBPath    string `yaml:"db_path"`
	BatchSize int    `yaml:"batch_size"`
	Recreate  *bool  `yaml:"recreate"`
}

// ShouldRecreate reports whether ingest clears the index first
func (c IndexConfig) ShouldRecreate() bool {
	return c.Recreate == nil || *c.Recreate
}

// ProgressConfig holds progress reporting settings
type ProgressConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// SearchConfig holds search_climbs defaults
type SearchConfig struct {
	DefaultLimit       int     `yaml:"default_limit"`
	DefaultRadiusMiles float64 `yaml:"default_radius_miles"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `yaml:"level"`
}

// ErrConfigNotFound is returned when an explicitly named config file is missing
var ErrConfigNotFound = errors.New("config file not found")

// ErrConfigExists is returned by SaveDefault when the target file is present
var ErrConfigExists = errors.New("config file already exists")

// ErrInvalidConfig is returned when config validation fails
var ErrInvalidConfig = errors.New("invalid configuration")

// Load reads the config file, applies environment overrides and validates.
// An empty path looks for climbrag.yaml in the working directory and falls
// back to defaults when it is absent. A non-empty path must exist.
func Load(path string) (*Config, error) {
	var cfg *Config
	var err error

	if path == "" {
		cfg, err = LoadFromPath(ConfigFileName)
	} else {
		if _, statErr := os.Stat(path); statErr != nil {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		cfg, err = LoadFromPath(path)
	}
	if err != nil {
		return nil, err
	}

	if err := ApplyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromPath reads config from a specific path.
// Merges loaded config with defaults. A missing file yields the defaults.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	loaded := &Config{}
	if err := yaml.Unmarshal(data, loaded); err != nil {
		return nil, fmt.Errorf("%w: parsing config file: %v", ErrInvalidConfig, err)
	}

	return Merge(loaded, DefaultConfig()), nil
}

// ApplyEnv overrides config values from the environment. getenv is usually
// os.Getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv(EnvDataDir); v != "" {
		cfg.Data.Dir = v
	} else if v := getenv(EnvDataDirAlt); v != "" {
		cfg.Data.Dir = v
	}
	if v := getenv(EnvDBPath); v != "" {
		cfg.Index.DBPath = v
	}
	if v := getenv(EnvProvider); v != "" {
		cfg.Embedding.Provider = strings.ToLower(v)
	}
	if v := getenv(EnvAPIKey); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := getenv(EnvDatasetURL); v != "" {
		cfg.Data.DatasetURL = v
	}
	if v := getenv(EnvTokenCeiling); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalidConfig, EnvTokenCeiling, v)
		}
		cfg.Embedding.TokenCeiling = n
	}
	if v := getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	return nil
}

// Validate checks that config values are valid.
// Returns an error if validation fails.
func Validate(cfg *Config) error {
	switch cfg.Embedding.Provider {
	case "", embedder.ProviderOpenAI, embedder.ProviderLocal:
	default:
		return fmt.Errorf("%w: embedding.provider must be %q or %q, got %q",
			ErrInvalidConfig, embedder.ProviderOpenAI, embedder.ProviderLocal, cfg.Embedding.Provider)
	}

	if cfg.Embedding.Dimension < 0 {
		return fmt.Errorf("%w: embedding.dimension must be non-negative, got %d",
			ErrInvalidConfig, cfg.Embedding.Dimension)
	}

	if cfg.Embedding.MaxBatchInputs > embedder.MaxBatchSize {
		return fmt.Errorf("%w: embedding.max_batch_inputs must be at most %d, got %d",
			ErrInvalidConfig, embedder.MaxBatchSize, cfg.Embedding.MaxBatchInputs)
	}

	if cfg.Embedding.MaxRetries < 0 {
		return fmt.Errorf("%w: embedding.max_retries must be non-negative, got %d",
			ErrInvalidConfig, cfg.Embedding.MaxRetries)
	}

	if cfg.Embedding.Timeout < 0 {
		return fmt.Errorf("%w: embedding.timeout must be non-negative, got %s",
			ErrInvalidConfig, cfg.Embedding.Timeout)
	}

	if err := cfg.PipelineConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if cfg.Index.BatchSize <= 0 {
		return fmt.Errorf("%w: index.batch_size must be positive, got %d",
			ErrInvalidConfig, cfg.Index.BatchSize)
	}

	if cfg.Search.DefaultLimit < 1 || cfg.Search.DefaultLimit > 100 {
		return fmt.Errorf("%w: search.default_limit must be between 1 and 100, got %d",
			ErrInvalidConfig, cfg.Search.DefaultLimit)
	}

	if cfg.Search.DefaultRadiusMiles <= 0 {
		return fmt.Errorf("%w: search.default_radius_miles must be positive, got %f",
			ErrInvalidConfig, cfg.Search.DefaultRadiusMiles)
	}

	if _, err := ParseLevel(cfg.Log.Level); err != nil {
		return err
	}

	return nil
}

// ParseLevel maps a log level name to a slog.Level
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log.level %q", ErrInvalidConfig, s)
	}
	return level, nil
}

// CachePath returns the embedding cache file location
func (c *Config) CachePath() string {
	if c.Data.CacheFile != "" {
		return c.Data.CacheFile
	}
	return filepath.Join(c.Data.Dir, DefaultCacheFile)
}

// DatasetPath returns where the dataset is read from or downloaded to
func (c *Config) DatasetPath() string {
	if c.Data.DatasetFile != "" {
		return c.Data.DatasetFile
	}
	return filepath.Join(c.Data.Dir, DefaultDatasetFile)
}

// DBPath returns the route index database location
func (c *Config) DBPath() string {
	if c.Index.DBPath != "" {
		return c.Index.DBPath
	}
	return filepath.Join(c.Data.Dir, DefaultDBFile)
}

// PipelineConfig returns the batching settings for the embedding pipeline
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		TokenCeiling:     c.Embedding.TokenCeiling,
		FlushRatio:       c.Embedding.FlushRatio,
		MaxBatchInputs:   c.Embedding.MaxBatchInputs,
		ProgressInterval: c.Progress.Interval,
	}
}

// EmbedderConfig returns the provider factory settings
func (c *Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Provider:   c.Embedding.Provider,
		APIKey:     c.Embedding.APIKey,
		Model:      c.Embedding.Model,
		BaseURL:    c.Embedding.BaseURL,
		Dimension:  c.Embedding.Dimension,
		CacheSize:  c.Embedding.CacheSize,
		MaxRetries: c.Embedding.MaxRetries,
		Timeout:    c.Embedding.Timeout,
	}
}

// SaveDefault writes the default configuration to path, creating its
// directory. An existing file is left alone unless overwrite is set.
func SaveDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	return Save(DefaultConfig(), path)
}

// Save writes cfg as yaml to path
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	header := "# climbrag configuration\n\n"
	data = append([]byte(header), data...)

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
