package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/climbrag/internal/embedder"
	"github.com/dshills/climbrag/internal/storage"
	"github.com/dshills/climbrag/pkg/types"
)

// SearchMode defines how the description clause is ranked
type SearchMode string

const (
	SearchModeHybrid  SearchMode = "hybrid"  // Vector + BM25 with RRF
	SearchModeVector  SearchMode = "vector"  // Vector similarity only
	SearchModeKeyword SearchMode = "keyword" // BM25 text search only
	SearchModeFilter  SearchMode = "filter"  // No text clause, structured filters only
)

const (
	DefaultLimit       = 10
	MaxLimit           = 100
	DefaultRadiusMiles = 50.0
	DefaultRRFConstant = 60.0
	DefaultCacheSize   = 1000
	DefaultCacheTTL    = time.Hour
)

var (
	// ErrIndexNotFound is returned when no ingest has completed against the index
	ErrIndexNotFound = errors.New("route index does not exist")
	// ErrInvalidQuery wraps every query validation failure
	ErrInvalidQuery = errors.New("invalid search query")
)

// Query holds the search_climbs parameters. Every set clause must hold for a
// route to match.
type Query struct {
	RouteName   string
	SectorName  string
	Description string
	Location    *types.Location
	RadiusMiles float64 // default 50 when Location is set
	Style       types.Style
	RatingMin   *float64
	Grades      []string
	Limit       int        // 1-100, default 10
	Mode        SearchMode // empty picks hybrid when vectors are available
}

// Result contains search results and metadata
type Result struct {
	Total         int
	Results       []types.SearchResult
	Mode          SearchMode
	Duration      time.Duration
	CacheHit      bool
	VectorResults int
	TextResults   int
}

// cacheEntry represents a cached result with expiration time
type cacheEntry struct {
	result    *Result
	expiresAt time.Time
}

// Searcher answers search_climbs queries against the route index
type Searcher struct {
	storage       storage.Storage
	embedder      embedder.Embedder // nil disables vector retrieval
	logger        *slog.Logger
	defaultLimit  int
	defaultRadius float64
	rrfK          float64
	cacheTTL      time.Duration
	cache         *lru.Cache[[32]byte, *cacheEntry]
	cacheMu       sync.RWMutex
	now           func() time.Time
}

// Option configures a Searcher
type Option func(*Searcher)

// WithDefaults sets the limit and radius used when a query leaves them unset
func WithDefaults(limit int, radiusMiles float64) Option {
	return func(s *Searcher) {
		if limit > 0 && limit <= MaxLimit {
			s.defaultLimit = limit
		}
		if radiusMiles > 0 {
			s.defaultRadius = radiusMiles
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCacheTTL sets how long results are reused; zero disables the cache
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Searcher) {
		s.cacheTTL = ttl
	}
}

// NewSearcher creates a new Searcher. emb may be nil for keyword-only search.
func NewSearcher(store storage.Storage, emb embedder.Embedder, opts ...Option) *Searcher {
	cache, err := lru.New[[32]byte, *cacheEntry](DefaultCacheSize)
	if err != nil {
		// This should never happen with valid size parameter
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	s := &Searcher{
		storage:       store,
		embedder:      emb,
		logger:        slog.Default(),
		defaultLimit:  DefaultLimit,
		defaultRadius: DefaultRadiusMiles,
		rrfK:          DefaultRRFConstant,
		cacheTTL:      DefaultCacheTTL,
		cache:         cache,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SearchClimbs runs q against the index
func (s *Searcher) SearchClimbs(ctx context.Context, q Query) (*Result, error) {
	start := s.now()

	if err := s.normalize(&q); err != nil {
		return nil, err
	}

	version, err := s.storage.GetMeta(ctx, storage.MetaLastIndexedAt)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrIndexNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index metadata: %w", err)
	}

	key := computeQueryHash(q, version)
	if cached := s.checkCache(key); cached != nil {
		cached.CacheHit = true
		cached.Duration = s.now().Sub(start)
		return cached, nil
	}

	filters := q.filters()

	var result *Result
	switch {
	case q.Description == "" && q.RouteName == "" && q.SectorName == "":
		result, err = s.filterSearch(ctx, q, filters)
	case q.Description == "":
		result, err = s.keywordSearch(ctx, q, filters)
	default:
		mode := s.resolveMode(ctx, q.Mode)
		switch mode {
		case SearchModeHybrid:
			result, err = s.hybridSearch(ctx, q, filters)
		case SearchModeVector:
			result, err = s.vectorSearch(ctx, q, filters)
		default:
			result, err = s.keywordSearch(ctx, q, filters)
		}
	}
	if err != nil {
		return nil, err
	}

	result.Duration = s.now().Sub(start)
	s.storeInCache(key, result)

	s.logger.Debug("search complete",
		"mode", result.Mode,
		"total", result.Total,
		"returned", len(result.Results),
		"duration", result.Duration)

	return result, nil
}

// normalize applies defaults and validates q in place
func (s *Searcher) normalize(q *Query) error {
	q.RouteName = strings.TrimSpace(q.RouteName)
	q.SectorName = strings.TrimSpace(q.SectorName)
	q.Description = strings.TrimSpace(q.Description)

	if q.Limit == 0 {
		q.Limit = s.defaultLimit
	}
	if q.Limit < 1 || q.Limit > MaxLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidQuery, MaxLimit)
	}

	if q.Location != nil {
		if !q.Location.Valid() {
			return fmt.Errorf("%w: %v", ErrInvalidQuery, types.ErrInvalidLocation)
		}
		if q.RadiusMiles == 0 {
			q.RadiusMiles = s.defaultRadius
		}
		if q.RadiusMiles < 0 || math.IsNaN(q.RadiusMiles) || math.IsInf(q.RadiusMiles, 0) {
			return fmt.Errorf("%w: location_radius_miles must be positive", ErrInvalidQuery)
		}
	}

	if q.Style != "" {
		q.Style = types.Style(strings.ToLower(strings.TrimSpace(string(q.Style))))
		if err := types.ValidateStyle(q.Style); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
	}

	if q.RatingMin != nil && (math.IsNaN(*q.RatingMin) || *q.RatingMin < 0) {
		return fmt.Errorf("%w: rating_min must be non-negative", ErrInvalidQuery)
	}

	grades := q.Grades[:0:0]
	for _, g := range q.Grades {
		if g = strings.TrimSpace(g); g != "" {
			grades = append(grades, g)
		}
	}
	q.Grades = grades

	switch q.Mode {
	case "", SearchModeHybrid, SearchModeVector, SearchModeKeyword:
	default:
		return fmt.Errorf("%w: unsupported search mode %q", ErrInvalidQuery, q.Mode)
	}

	return nil
}

// filters converts the structured clauses of q
func (q Query) filters() *storage.Filters {
	f := &storage.Filters{
		RouteName:  q.RouteName,
		SectorName: q.SectorName,
		Style:      q.Style,
		RatingMin:  q.RatingMin,
		Grades:     q.Grades,
	}
	if q.Location != nil {
		loc := *q.Location
		f.Near = &loc
		f.RadiusMiles = q.RadiusMiles
	}
	return f
}

// resolveMode picks how to rank the description. Vector retrieval needs an
// embedder whose dimension matches the vectors in the index.
func (s *Searcher) resolveMode(ctx context.Context, requested SearchMode) SearchMode {
	if requested == SearchModeKeyword {
		return SearchModeKeyword
	}
	if requested == "" {
		requested = SearchModeHybrid
	}
	if s.embedder == nil {
		return SearchModeKeyword
	}

	v, err := s.storage.GetMeta(ctx, storage.MetaDimension)
	if err != nil {
		return SearchModeKeyword
	}
	dim, err := strconv.Atoi(v)
	if err != nil || dim <= 0 {
		return SearchModeKeyword
	}
	if dim != s.embedder.Dimension() {
		s.logger.Warn("query embedder does not match index, using keyword search",
			"index_dimension", dim, "embedder_dimension", s.embedder.Dimension())
		return SearchModeKeyword
	}
	return requested
}

// filterSearch serves queries with no text clause
func (s *Searcher) filterSearch(ctx context.Context, q Query, filters *storage.Filters) (*Result, error) {
	hits, total, err := s.storage.QueryRoutes(ctx, filters, q.Limit)
	if err != nil {
		return nil, err
	}

	ranked := make([]rankedResult, len(hits))
	for i, h := range hits {
		ranked[i] = rankedResult{routeID: h.RouteID, score: h.Score, rank: i + 1}
	}

	results, err := s.fetchResults(ctx, ranked, q.Limit)
	if err != nil {
		return nil, err
	}
	return &Result{Total: total, Results: results, Mode: SearchModeFilter}, nil
}

// keywordSearch performs only BM25 text search
func (s *Searcher) keywordSearch(ctx context.Context, q Query, filters *storage.Filters) (*Result, error) {
	hits, total, err := s.storage.SearchText(ctx, q.Description, filters, q.Limit)
	if errors.Is(err, storage.ErrEmptyQuery) {
		// Clauses made only of punctuation match nothing
		return &Result{Mode: SearchModeKeyword, Results: []types.SearchResult{}}, nil
	}
	if err != nil {
		return nil, err
	}

	ranked := make([]rankedResult, len(hits))
	for i, h := range hits {
		ranked[i] = rankedResult{routeID: h.RouteID, score: h.Score, rank: i + 1}
	}

	results, err := s.fetchResults(ctx, ranked, q.Limit)
	if err != nil {
		return nil, err
	}
	return &Result{Total: total, Results: results, Mode: SearchModeKeyword, TextResults: len(hits)}, nil
}

// vectorSearch ranks the filtered routes by similarity to the description
func (s *Searcher) vectorSearch(ctx context.Context, q Query, filters *storage.Filters) (*Result, error) {
	vector, err := s.embedQuery(ctx, q.Description)
	if err != nil {
		return nil, err
	}

	hits, total, err := s.storage.SearchVector(ctx, vector, filters, q.Limit)
	if err != nil {
		return nil, err
	}

	ranked := make([]rankedResult, len(hits))
	for i, h := range hits {
		ranked[i] = rankedResult{routeID: h.RouteID, score: h.Similarity, rank: i + 1}
	}

	results, err := s.fetchResults(ctx, ranked, q.Limit)
	if err != nil {
		return nil, err
	}
	return &Result{Total: total, Results: results, Mode: SearchModeVector, VectorResults: len(hits)}, nil
}

// hybridSearch combines vector and BM25 search using Reciprocal Rank Fusion.
// Either side may fail alone; the other's ranking is used.
func (s *Searcher) hybridSearch(ctx context.Context, q Query, filters *storage.Filters) (*Result, error) {
	fetch := q.Limit * 2

	var (
		textHits, vectorHits []storage.TextResult
		vectorRaw            []storage.VectorResult
		textErr, vectorErr   error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		textHits, _, textErr = s.storage.SearchText(gctx, q.Description, filters, fetch)
		return nil
	})
	g.Go(func() error {
		vector, err := s.embedQuery(gctx, q.Description)
		if err != nil {
			vectorErr = err
			return nil
		}
		vectorRaw, _, vectorErr = s.storage.SearchVector(gctx, vector, filters, fetch)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if errors.Is(textErr, storage.ErrEmptyQuery) {
		textErr = nil
	}
	if textErr != nil && vectorErr != nil {
		return nil, fmt.Errorf("both searches failed: vector=%w, text=%v", vectorErr, textErr)
	}
	if vectorErr != nil {
		s.logger.Warn("vector search failed, using keyword results", "error", vectorErr)
	}
	if textErr != nil {
		s.logger.Warn("keyword search failed, using vector results", "error", textErr)
	}

	vectorHits = make([]storage.TextResult, len(vectorRaw))
	for i, v := range vectorRaw {
		vectorHits[i] = storage.TextResult{RouteID: v.RouteID, Score: v.Similarity}
	}

	ranked := applyRRF(vectorHits, textHits, s.rrfK)
	results, err := s.fetchResults(ctx, ranked, q.Limit)
	if err != nil {
		return nil, err
	}

	return &Result{
		Total:         len(ranked),
		Results:       results,
		Mode:          SearchModeHybrid,
		VectorResults: len(vectorRaw),
		TextResults:   len(textHits),
	}, nil
}

// embedQuery embeds the description through the provider's query cache
func (s *Searcher) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", embedder.ErrNoProviderEnabled)
	}
	emb, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}
	return emb.Vector, nil
}

// rankedResult represents a route with its relevance score and rank
type rankedResult struct {
	routeID int64
	score   float64
	rank    int
}

// applyRRF applies Reciprocal Rank Fusion to combine ranked lists
// RRF formula: RRF(d) = Σ 1/(k + rank(d))
func applyRRF(vectorResults, textResults []storage.TextResult, k float64) []rankedResult {
	if k == 0 {
		k = DefaultRRFConstant
	}

	scores := make(map[int64]float64)
	for rank, vr := range vectorResults {
		scores[vr.RouteID] += 1.0 / (k + float64(rank+1))
	}
	for rank, tr := range textResults {
		scores[tr.RouteID] += 1.0 / (k + float64(rank+1))
	}

	results := make([]rankedResult, 0, len(scores))
	for routeID, score := range scores {
		results = append(results, rankedResult{routeID: routeID, score: score})
	}

	sortRankedResults(results)

	for i := range results {
		results[i].rank = i + 1
	}
	return results
}

// fetchResults loads the routes for the first limit ranked entries
func (s *Searcher) fetchResults(ctx context.Context, ranked []rankedResult, limit int) ([]types.SearchResult, error) {
	if limit > len(ranked) {
		limit = len(ranked)
	}

	ids := make([]int64, limit)
	for i := 0; i < limit; i++ {
		ids[i] = ranked[i].routeID
	}

	routes, err := s.storage.GetRoutes(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load routes: %w", err)
	}
	byID := make(map[int64]*types.Route, len(routes))
	for _, r := range routes {
		byID[r.RouteID] = r
	}

	results := make([]types.SearchResult, 0, limit)
	for i := 0; i < limit; i++ {
		route, ok := byID[ranked[i].routeID]
		if !ok {
			continue // Skip routes that can't be loaded
		}
		results = append(results, types.SearchResult{
			Rank:  len(results) + 1,
			Score: ranked[i].score,
			Route: route,
		})
	}
	return results, nil
}

// checkCache returns a copy of a live cached result, or nil
func (s *Searcher) checkCache(key [32]byte) *Result {
	if s.cacheTTL <= 0 {
		return nil
	}

	s.cacheMu.RLock()
	entry, found := s.cache.Get(key)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}
	if s.now().After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(key)
		s.cacheMu.Unlock()
		return nil
	}
	result := copyResult(entry.result)
	s.cacheMu.RUnlock()

	return result
}

// storeInCache saves a copy of result
func (s *Searcher) storeInCache(key [32]byte, result *Result) {
	if s.cacheTTL <= 0 {
		return
	}
	entry := &cacheEntry{
		result:    copyResult(result),
		expiresAt: s.now().Add(s.cacheTTL),
	}

	s.cacheMu.Lock()
	s.cache.Add(key, entry)
	s.cacheMu.Unlock()
}

// InvalidateCache drops every cached result
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// copyResult deep-copies a Result so cached routes can't be mutated by callers
func copyResult(src *Result) *Result {
	dst := *src
	dst.Results = make([]types.SearchResult, len(src.Results))
	for i, r := range src.Results {
		dst.Results[i] = r
		if r.Route == nil {
			continue
		}
		route := *r.Route
		if r.Route.Location != nil {
			loc := *r.Route.Location
			route.Location = &loc
		}
		if r.Route.Rating != nil {
			rating := *r.Route.Rating
			route.Rating = &rating
		}
		route.DescriptionVector = nil
		dst.Results[i].Route = &route
	}
	return &dst
}

// computeQueryHash keys a normalized query to one state of the index
func computeQueryHash(q Query, indexVersion string) [32]byte {
	var data strings.Builder
	fmt.Fprintf(&data, "%s|%s|%s|%s|%d|%s|", indexVersion, q.RouteName, q.SectorName, q.Description, q.Limit, q.Mode)
	if q.Location != nil {
		fmt.Fprintf(&data, "%.6f,%.6f,%.3f", q.Location.Lat, q.Location.Lon, q.RadiusMiles)
	}
	fmt.Fprintf(&data, "|%s|", q.Style)
	if q.RatingMin != nil {
		fmt.Fprintf(&data, "%.3f", *q.RatingMin)
	}
	data.WriteString("|")
	data.WriteString(strings.Join(q.Grades, ","))

	return sha256.Sum256([]byte(data.String()))
}

// sortRankedResults orders by score descending, then route id
func sortRankedResults(results []rankedResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].routeID < results[j].routeID
	})
}
