package storage

import (
	"context"
	"time"

	"github.com/dshills/climbrag/pkg/types"
)

// Storage defines the interface for persisting and querying the route index
type Storage interface {
	// Route operations
	UpsertRoute(ctx context.Context, route *types.Route) error
	GetRoute(ctx context.Context, routeID int64) (*types.Route, error)
	GetRoutes(ctx context.Context, routeIDs []int64) ([]*types.Route, error)
	DeleteAll(ctx context.Context) error

	// Embedding operations
	UpsertEmbedding(ctx context.Context, embedding *Embedding) error
	GetEmbedding(ctx context.Context, routeID int64) (*Embedding, error)
	DeleteEmbedding(ctx context.Context, routeID int64) error

	// Search operations. Each returns at most limit hits plus the total
	// number of routes that matched before the limit was applied.
	QueryRoutes(ctx context.Context, filters *Filters, limit int) ([]TextResult, int, error)
	SearchText(ctx context.Context, query string, filters *Filters, limit int) ([]TextResult, int, error)
	SearchVector(ctx context.Context, vector []float32, filters *Filters, limit int) ([]VectorResult, int, error)

	// Index metadata
	SetMeta(ctx context.Context, key, value string) error
	GetMeta(ctx context.Context, key string) (string, error)
	GetStatus(ctx context.Context) (*IndexStatus, error)
	Exists(ctx context.Context) (bool, error)

	Close() error

	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// Index metadata keys
const (
	MetaDimension     = "dimension"
	MetaModel         = "model"
	MetaLastIndexedAt = "last_indexed_at"
)

// Embedding is the stored description vector of one route
type Embedding struct {
	RouteID   int64
	Vector    []byte // little-endian float32, see SerializeVector
	Dimension int
	Model     string
	CreatedAt time.Time
}

// Filters restrict a search to routes matching every set field.
// RouteName and SectorName require all of their words to appear in the
// respective column. Near with RadiusMiles keeps routes within that distance.
type Filters struct {
	RouteName   string
	SectorName  string
	Style       types.Style
	RatingMin   *float64
	Grades      []string
	Near        *types.Location
	RadiusMiles float64
}

// VectorResult represents a vector similarity search hit
type VectorResult struct {
	RouteID    int64
	Similarity float64 // cosine, higher is closer
}

// TextResult represents a full-text or filter search hit
type TextResult struct {
	RouteID int64
	Score   float64 // normalized bm25, higher is better
}

// IndexStatus summarizes the contents of the route index
type IndexStatus struct {
	RoutesCount     int
	EmbeddingsCount int
	Dimension       int
	Model           string
	LastIndexedAt   time.Time
	IndexSizeMB     float64
	Health          HealthStatus
}

// HealthStatus represents index health indicators
type HealthStatus struct {
	DatabaseAccessible  bool
	EmbeddingsAvailable bool
	FTSIndexBuilt       bool
}
