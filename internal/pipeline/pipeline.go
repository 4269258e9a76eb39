package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dshills/climbrag/internal/embedder"
	"github.com/dshills/climbrag/internal/tokenizer"
	"github.com/dshills/climbrag/pkg/types"
)

// Defaults
const (
	// DefaultTokenCeiling is the per-request token limit of text-embedding-3-small
	DefaultTokenCeiling = 8191
	// DefaultFlushRatio flushes batches at half the ceiling
	DefaultFlushRatio = 0.5
	// DefaultMaxBatchInputs matches the provider limit on inputs per request
	DefaultMaxBatchInputs = embedder.MaxBatchSize
	// DefaultProgressInterval is the wall-clock gap between progress lines
	DefaultProgressInterval = 10 * time.Second
)

var (
	// ErrCacheSave is returned when the cache checkpoint after a batch fails
	ErrCacheSave = errors.New("failed to save embedding cache")
	// ErrInvalidConfig is returned for unusable pipeline settings
	ErrInvalidConfig = errors.New("invalid pipeline config")
	// ErrDimensionMismatch is returned when the cache and provider disagree on vector size
	ErrDimensionMismatch = errors.New("cache dimension does not match provider")
	// ErrBadResponse marks a provider response that cannot be zipped into the batch
	ErrBadResponse = errors.New("unusable provider response")
)

// Cache is the embedding cache as the pipeline uses it
type Cache interface {
	Lookup
	Put(text string, vec []float32) error
	Save() error
	Dimension() int
}

// Config tunes batching
type Config struct {
	TokenCeiling     int
	FlushRatio       float64
	MaxBatchInputs   int // 0 means unlimited
	ProgressInterval time.Duration
}

// DefaultConfig returns the production batching settings
func DefaultConfig() Config {
	return Config{
		TokenCeiling:     DefaultTokenCeiling,
		FlushRatio:       DefaultFlushRatio,
		MaxBatchInputs:   DefaultMaxBatchInputs,
		ProgressInterval: DefaultProgressInterval,
	}
}

// Validate checks the config for unusable values
func (c Config) Validate() error {
	if c.TokenCeiling <= 0 {
		return fmt.Errorf("%w: token ceiling must be positive, got %d", ErrInvalidConfig, c.TokenCeiling)
	}
	if c.FlushRatio <= 0 || c.FlushRatio > 1 {
		return fmt.Errorf("%w: flush ratio must be in (0, 1], got %g", ErrInvalidConfig, c.FlushRatio)
	}
	if c.MaxBatchInputs < 0 {
		return fmt.Errorf("%w: max batch inputs must not be negative", ErrInvalidConfig)
	}
	if c.ProgressInterval < 0 {
		return fmt.Errorf("%w: progress interval must not be negative", ErrInvalidConfig)
	}
	return nil
}

// FlushThreshold is the batch token total that triggers a flush
func (c Config) FlushThreshold() int {
	return int(float64(c.TokenCeiling) * c.FlushRatio)
}

// Statistics summarizes one AddEmbeddings run
type Statistics struct {
	Total          int
	Embedded       int
	CacheHits      int
	Skipped        int
	Truncated      int
	Failed         int
	Batches        int
	FailedBatches  int
	ProviderCalls  int
	Duration       time.Duration
	FailedRouteIDs []int64
}

// Pipeline assigns description vectors to routes in token-budgeted batches
type Pipeline struct {
	counter  tokenizer.Counter
	provider embedder.TokenEmbedder
	cache    Cache
	config   Config
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithConfig overrides the batching settings
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) {
		p.config = cfg
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock replaces time.Now, for progress tests
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a pipeline. The cache must already be loaded.
func New(counter tokenizer.Counter, provider embedder.TokenEmbedder, cache Cache, opts ...Option) (*Pipeline, error) {
	if counter == nil || provider == nil || cache == nil {
		return nil, fmt.Errorf("%w: counter, provider and cache are required", ErrInvalidConfig)
	}

	p := &Pipeline{
		counter:  counter,
		provider: provider,
		cache:    cache,
		config:   DefaultConfig(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := p.config.Validate(); err != nil {
		return nil, err
	}

	if dim := cache.Dimension(); dim > 0 && provider.Dimension() > 0 && dim != provider.Dimension() {
		return nil, fmt.Errorf("%w: cache has %d, provider %s has %d",
			ErrDimensionMismatch, dim, provider.Model(), provider.Dimension())
	}

	return p, nil
}

// AddEmbeddings sets DescriptionVector on routes in place. Routes with an
// empty description keep a nil vector. A route may also have its Description
// shortened when it measures at or above the token ceiling.
//
// A failed provider call leaves that batch's routes without vectors and the
// run continues. A failed cache save or a cancelled context stops the run;
// batches flushed before that point are already persisted.
func (p *Pipeline) AddEmbeddings(ctx context.Context, routes []*types.Route) (*Statistics, error) {
	start := p.now()
	stats := &Statistics{Total: len(routes)}
	planner := NewPlanner(p.counter, p.cache, p.config, p.logger)
	progress := NewProgress(p.config.ProgressInterval, p.now, p.logger)

	defer func() {
		counts := planner.Counts()
		stats.Skipped = counts.Skipped
		stats.Truncated = counts.Truncated
		stats.CacheHits = counts.CacheHits
		stats.Duration = p.now().Sub(start)
	}()

	for i, route := range routes {
		if batch := planner.Add(route); batch != nil {
			if err := p.flush(ctx, batch, stats); err != nil {
				return stats, err
			}
		}
		progress.Report(i+1, len(routes))
	}

	if batch := planner.Finish(); batch != nil {
		if err := p.flush(ctx, batch, stats); err != nil {
			return stats, err
		}
	}

	counts := planner.Counts()
	p.logger.Info("embedding complete",
		"total", stats.Total,
		"embedded", stats.Embedded,
		"cache_hits", counts.CacheHits,
		"skipped", counts.Skipped,
		"truncated", counts.Truncated,
		"failed", stats.Failed,
		"batches", stats.Batches,
		"failed_batches", stats.FailedBatches)

	return stats, nil
}

// Model names the provider model the vectors come from
func (p *Pipeline) Model() string {
	return p.provider.Model()
}

// Dimension is the provider's vector dimension
func (p *Pipeline) Dimension() int {
	return p.provider.Dimension()
}

// flush sends one batch and commits its vectors to routes and the cache
func (p *Pipeline) flush(ctx context.Context, batch *Batch, stats *Statistics) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	inputs := make([][]int, batch.Len())
	for i, e := range batch.Entries {
		inputs[i] = p.counter.Encode(e.Text)
	}

	stats.Batches++
	stats.ProviderCalls++
	vectors, err := p.provider.EmbedTokens(ctx, inputs)
	if err == nil {
		err = p.checkVectors(vectors, len(inputs))
	}
	if err != nil {
		ids := batch.RouteIDs()
		p.logger.Error("embedding batch failed",
			"error", err,
			"inputs", batch.Len(),
			"tokens", batch.Tokens,
			"route_ids", ids)
		stats.FailedBatches++
		stats.Failed += len(ids)
		stats.FailedRouteIDs = append(stats.FailedRouteIDs, ids...)
		return ctx.Err()
	}

	for i, e := range batch.Entries {
		for _, r := range e.Routes {
			vec := make([]float32, len(vectors[i]))
			copy(vec, vectors[i])
			r.DescriptionVector = vec
		}
		stats.Embedded += len(e.Routes)
		if err := p.cache.Put(e.Text, vectors[i]); err != nil {
			return fmt.Errorf("%w: %w", ErrCacheSave, err)
		}
	}

	if err := p.cache.Save(); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheSave, err)
	}

	p.logger.Debug("embedding batch committed", "inputs", batch.Len(), "tokens", batch.Tokens)
	return nil
}

func (p *Pipeline) checkVectors(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("%w: expected %d vectors, got %d", ErrBadResponse, want, len(vectors))
	}
	dim := p.provider.Dimension()
	if dim <= 0 && want > 0 {
		dim = len(vectors[0])
	}
	for i, vec := range vectors {
		if len(vec) == 0 || len(vec) != dim {
			return fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrBadResponse, i, len(vec), dim)
		}
	}
	return nil
}
