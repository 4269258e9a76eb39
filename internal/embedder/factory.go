package embedder

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dshills/climbrag/internal/tokenizer"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	APIKey    string
	Model     string
	BaseURL   string
	Dimension int
	CacheSize int
	// MaxRetries is the attempt count for transient failures, 0 means default
	MaxRetries int
	Timeout    time.Duration
}

// DefaultCacheSize is the LRU size for query-time embeddings
const DefaultCacheSize = 10000

// NewFromEnv creates an embedder based on environment variables
// Priority:
// 1. CLIMBRAG_EMBEDDING_PROVIDER (openai, local)
// 2. OPENAI_API_KEY selects openai
// 3. Default to local if no API key found
func NewFromEnv(counter tokenizer.Counter) (Provider, error) {
	return New(Config{
		Provider:  DetectProvider(),
		APIKey:    os.Getenv(EnvOpenAIAPIKey),
		CacheSize: DefaultCacheSize,
	}, counter)
}

// New creates an embedder with explicit configuration
func New(cfg Config, counter tokenizer.Counter) (Provider, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = DetectProvider()
	}

	switch provider {
	case ProviderOpenAI:
		opts := []OpenAIOption{
			WithBaseURL(cfg.BaseURL),
			WithModel(cfg.Model, cfg.Dimension),
			WithTimeout(cfg.Timeout),
		}
		if cfg.MaxRetries > 0 {
			retry := DefaultRetryConfig()
			retry.MaxRetries = cfg.MaxRetries
			opts = append(opts, WithRetry(retry))
		}
		return NewOpenAIProvider(cfg.APIKey, cache, opts...)
	case ProviderLocal:
		return NewLocalProvider(counter, cfg.Dimension, cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	provider := os.Getenv(EnvProvider)
	if provider != "" {
		return strings.ToLower(provider)
	}

	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}

	return ProviderLocal
}
