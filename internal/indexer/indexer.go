package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dshills/climbrag/internal/pipeline"
	"github.com/dshills/climbrag/internal/storage"
	"github.com/dshills/climbrag/pkg/types"
)

// DefaultBatchSize is the number of routes committed per transaction
const DefaultBatchSize = 500

// ErrIngestInProgress is returned when Ingest is called while a run is active
var ErrIngestInProgress = errors.New("ingest already in progress")

// Embedder assigns description vectors to routes in place
type Embedder interface {
	AddEmbeddings(ctx context.Context, routes []*types.Route) (*pipeline.Statistics, error)
	Model() string
	Dimension() int
}

// Indexer coordinates an ingest run: embed -> store
type Indexer struct {
	storage  storage.Storage
	embedder Embedder
	logger   *slog.Logger
	now      func() time.Time
	lock     IndexLock
}

// Config contains configuration for one ingest run
type Config struct {
	BatchSize int  // Routes per transaction (default: 500)
	Recreate  bool // Clear the index before loading
}

// Statistics contains statistics about an ingest run
type Statistics struct {
	Embedding     *pipeline.Statistics
	Indexed       int
	Vectors       int
	IndexFailed   int
	Duration      time.Duration
	ErrorMessages []string
}

// New creates a new Indexer instance
func New(store storage.Storage, emb Embedder, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		storage:  store,
		embedder: emb,
		logger:   logger,
		now:      time.Now,
	}
}

// Ingest embeds routes and loads them into the index. Routes are mutated by
// the embedding step. An embedding failure that stops the pipeline aborts
// the run before the index is touched, Recreate included.
func (idx *Indexer) Ingest(ctx context.Context, routes []*types.Route, config *Config) (*Statistics, error) {
	if !idx.lock.TryAcquire(idx.now()) {
		if since, ok := idx.lock.HeldSince(); ok {
			return nil, fmt.Errorf("%w (started %s)", ErrIngestInProgress, since.UTC().Format(time.RFC3339))
		}
		return nil, ErrIngestInProgress
	}
	defer idx.lock.Release()

	if config == nil {
		config = &Config{}
	}
	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	start := idx.now()
	stats := &Statistics{ErrorMessages: make([]string, 0)}

	embedStats, err := idx.embedder.AddEmbeddings(ctx, routes)
	stats.Embedding = embedStats
	if err != nil {
		stats.Duration = idx.now().Sub(start)
		return stats, fmt.Errorf("embedding failed: %w", err)
	}

	if config.Recreate {
		if err := idx.storage.DeleteAll(ctx); err != nil {
			stats.Duration = idx.now().Sub(start)
			return stats, fmt.Errorf("failed to recreate index: %w", err)
		}
		idx.logger.Info("index cleared")
	}

	model := idx.embedder.Model()
	for i := 0; i < len(routes); i += batchSize {
		end := i + batchSize
		if end > len(routes) {
			end = len(routes)
		}

		if err := idx.indexBatch(ctx, routes[i:end], model, stats); err != nil {
			stats.Duration = idx.now().Sub(start)
			return stats, err
		}
		idx.logger.Debug("index batch committed", "routes", end-i, "indexed", stats.Indexed)
	}

	if err := idx.writeMeta(ctx, model); err != nil {
		stats.Duration = idx.now().Sub(start)
		return stats, err
	}

	stats.Duration = idx.now().Sub(start)
	idx.logger.Info("ingest complete",
		"indexed", stats.Indexed,
		"vectors", stats.Vectors,
		"index_failed", stats.IndexFailed,
		"duration", stats.Duration.Round(time.Millisecond))

	return stats, nil
}

// indexBatch stores a batch of routes within a transaction. A route that
// fails validation is recorded and skipped.
func (idx *Indexer) indexBatch(ctx context.Context, routes []*types.Route, model string, stats *Statistics) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, route := range routes {
		if err := idx.indexRoute(ctx, tx, route, model); err != nil {
			stats.IndexFailed++
			stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("route %d: %v", route.RouteID, err))
			idx.logger.Warn("route not indexed", "route_id", route.RouteID, "error", err)
			continue
		}
		stats.Indexed++
		if route.HasVector() {
			stats.Vectors++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// indexRoute stores one route and, when present, its vector
func (idx *Indexer) indexRoute(ctx context.Context, store storage.Storage, route *types.Route, model string) error {
	if err := store.UpsertRoute(ctx, route); err != nil {
		return err
	}
	if !route.HasVector() {
		// Drop a vector left from an earlier run
		return store.DeleteEmbedding(ctx, route.RouteID)
	}
	return store.UpsertEmbedding(ctx, &storage.Embedding{
		RouteID:   route.RouteID,
		Vector:    storage.SerializeVector(route.DescriptionVector),
		Dimension: len(route.DescriptionVector),
		Model:     model,
	})
}

// writeMeta records what the index was built with, marking it as existing
func (idx *Indexer) writeMeta(ctx context.Context, model string) error {
	meta := map[string]string{
		storage.MetaDimension:     strconv.Itoa(idx.embedder.Dimension()),
		storage.MetaModel:         model,
		storage.MetaLastIndexedAt: idx.now().UTC().Format(time.RFC3339),
	}
	for _, key := range []string{storage.MetaDimension, storage.MetaModel, storage.MetaLastIndexedAt} {
		if err := idx.storage.SetMeta(ctx, key, meta[key]); err != nil {
			return fmt.Errorf("failed to record index metadata: %w", err)
		}
	}
	return nil
}
