package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/climbrag/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrEmptyQuery is returned when a text search has no usable terms
	ErrEmptyQuery = errors.New("empty search query")
	// ErrNestedTx is returned by BeginTx on a transaction
	ErrNestedTx = errors.New("nested transactions not supported")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Single connection: one writer, and ":memory:" databases stay shared
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage opens (creating if needed) the route index at dbPath
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction. Every operation, reads included, runs on
// the transaction: the pool holds a single connection.
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) querier() querier {
	return t.tx
}

func (s *SQLiteStorage) querier() querier {
	return s.db
}

// Route operations

const routeColumns = `route_id, sector_id, route_name, sector_name, grade, style, lat, lon, rating, description`

func upsertRouteWithQuerier(ctx context.Context, q querier, route *types.Route) error {
	if err := route.Validate(); err != nil {
		return fmt.Errorf("route %d: %w", route.RouteID, err)
	}

	var lat, lon sql.NullFloat64
	if route.Location != nil {
		lat = sql.NullFloat64{Float64: route.Location.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: route.Location.Lon, Valid: true}
	}
	var rating sql.NullFloat64
	if route.Rating != nil {
		rating = sql.NullFloat64{Float64: *route.Rating, Valid: true}
	}

	query := `
		INSERT INTO routes (` + routeColumns + `, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(route_id) DO UPDATE SET
			sector_id = excluded.sector_id,
			route_name = excluded.route_name,
			sector_name = excluded.sector_name,
			grade = excluded.grade,
			style = excluded.style,
			lat = excluded.lat,
			lon = excluded.lon,
			rating = excluded.rating,
			description = excluded.description,
			updated_at = excluded.updated_at
	`
	now := time.Now()
	_, err := q.ExecContext(ctx, query,
		route.RouteID, route.SectorID, route.RouteName, route.SectorName,
		route.Grade, string(route.Style), lat, lon, rating, route.Description,
		now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert route %d: %w", route.RouteID, err)
	}
	return nil
}

func (s *SQLiteStorage) UpsertRoute(ctx context.Context, route *types.Route) error {
	return upsertRouteWithQuerier(ctx, s.querier(), route)
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRoute(row scanner) (*types.Route, error) {
	var (
		route                 types.Route
		sectorID, sectorName  sql.NullString
		style, description    sql.NullString
		lat, lon, ratingValue sql.NullFloat64
	)
	err := row.Scan(&route.RouteID, &sectorID, &route.RouteName, &sectorName,
		&route.Grade, &style, &lat, &lon, &ratingValue, &description)
	if err != nil {
		return nil, err
	}
	route.SectorID = sectorID.String
	route.SectorName = sectorName.String
	route.Style = types.Style(style.String)
	route.Description = description.String
	if lat.Valid && lon.Valid {
		route.Location = &types.Location{Lat: lat.Float64, Lon: lon.Float64}
	}
	if ratingValue.Valid {
		r := ratingValue.Float64
		route.Rating = &r
	}
	return &route, nil
}

func getRouteWithQuerier(ctx context.Context, q querier, routeID int64) (*types.Route, error) {
	query := `SELECT ` + routeColumns + ` FROM routes WHERE route_id = ?`
	route, err := scanRoute(q.QueryRowContext(ctx, query, routeID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return route, nil
}

func (s *SQLiteStorage) GetRoute(ctx context.Context, routeID int64) (*types.Route, error) {
	return getRouteWithQuerier(ctx, s.querier(), routeID)
}

// getRoutesWithQuerier returns the routes in the order of routeIDs, skipping
// ids that are not indexed.
func getRoutesWithQuerier(ctx context.Context, q querier, routeIDs []int64) ([]*types.Route, error) {
	if len(routeIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(routeIDs))
	args := make([]interface{}, len(routeIDs))
	for i, id := range routeIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	query := `SELECT ` + routeColumns + ` FROM routes WHERE route_id IN (` + strings.Join(placeholders, ",") + `)`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load routes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[int64]*types.Route, len(routeIDs))
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		byID[route.RouteID] = route
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	routes := make([]*types.Route, 0, len(byID))
	for _, id := range routeIDs {
		if route, ok := byID[id]; ok {
			routes = append(routes, route)
		}
	}
	return routes, nil
}

func (s *SQLiteStorage) GetRoutes(ctx context.Context, routeIDs []int64) ([]*types.Route, error) {
	return getRoutesWithQuerier(ctx, s.querier(), routeIDs)
}

// deleteAllWithQuerier empties the index. The FTS table follows through the
// delete trigger.
func deleteAllWithQuerier(ctx context.Context, q querier) error {
	for _, stmt := range []string{
		`DELETE FROM route_embeddings`,
		`DELETE FROM routes`,
		`DELETE FROM index_meta`,
	} {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clear index: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) DeleteAll(ctx context.Context) error {
	return deleteAllWithQuerier(ctx, s.querier())
}

// Embedding operations

func upsertEmbeddingWithQuerier(ctx context.Context, q querier, embedding *Embedding) error {
	query := `
		INSERT INTO route_embeddings (route_id, vector, dimension, model, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(route_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			model = excluded.model
	`
	now := time.Now()
	_, err := q.ExecContext(ctx, query,
		embedding.RouteID, embedding.Vector, embedding.Dimension, embedding.Model, now)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}
	embedding.CreatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertEmbedding(ctx context.Context, embedding *Embedding) error {
	return upsertEmbeddingWithQuerier(ctx, s.querier(), embedding)
}

func getEmbeddingWithQuerier(ctx context.Context, q querier, routeID int64) (*Embedding, error) {
	query := `
		SELECT route_id, vector, dimension, model, created_at
		FROM route_embeddings
		WHERE route_id = ?
	`
	var embedding Embedding
	err := q.QueryRowContext(ctx, query, routeID).Scan(
		&embedding.RouteID, &embedding.Vector, &embedding.Dimension,
		&embedding.Model, &embedding.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &embedding, nil
}

func (s *SQLiteStorage) GetEmbedding(ctx context.Context, routeID int64) (*Embedding, error) {
	return getEmbeddingWithQuerier(ctx, s.querier(), routeID)
}

func deleteEmbeddingWithQuerier(ctx context.Context, q querier, routeID int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM route_embeddings WHERE route_id = ?`, routeID)
	return err
}

func (s *SQLiteStorage) DeleteEmbedding(ctx context.Context, routeID int64) error {
	return deleteEmbeddingWithQuerier(ctx, s.querier(), routeID)
}

// Search operations

func (s *SQLiteStorage) QueryRoutes(ctx context.Context, filters *Filters, limit int) ([]TextResult, int, error) {
	return queryRoutes(ctx, s.querier(), filters, limit)
}

func (s *SQLiteStorage) SearchText(ctx context.Context, query string, filters *Filters, limit int) ([]TextResult, int, error) {
	return searchText(ctx, s.querier(), query, filters, limit)
}

func (s *SQLiteStorage) SearchVector(ctx context.Context, vector []float32, filters *Filters, limit int) ([]VectorResult, int, error) {
	return searchVector(ctx, s.querier(), vector, filters, limit)
}

// Metadata operations

func setMetaWithQuerier(ctx context.Context, q querier, key, value string) error {
	query := `
		INSERT INTO index_meta (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := q.ExecContext(ctx, query, key, value, time.Now()); err != nil {
		return fmt.Errorf("failed to set meta %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStorage) SetMeta(ctx context.Context, key, value string) error {
	return setMetaWithQuerier(ctx, s.querier(), key, value)
}

func getMetaWithQuerier(ctx context.Context, q querier, key string) (string, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *SQLiteStorage) GetMeta(ctx context.Context, key string) (string, error) {
	return getMetaWithQuerier(ctx, s.querier(), key)
}

// existsWithQuerier reports whether an ingest run has completed against this
// database since it was created or last cleared.
func existsWithQuerier(ctx context.Context, q querier) (bool, error) {
	_, err := getMetaWithQuerier(ctx, q, MetaLastIndexedAt)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStorage) Exists(ctx context.Context) (bool, error) {
	return existsWithQuerier(ctx, s.querier())
}

// Status operations

func getStatusWithQuerier(ctx context.Context, q querier) (*IndexStatus, error) {
	status := &IndexStatus{}

	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM routes").Scan(&status.RoutesCount); err != nil {
		return nil, err
	}
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM route_embeddings").Scan(&status.EmbeddingsCount); err != nil {
		return nil, err
	}

	if v, err := getMetaWithQuerier(ctx, q, MetaDimension); err == nil {
		status.Dimension, _ = strconv.Atoi(v)
	}
	if v, err := getMetaWithQuerier(ctx, q, MetaModel); err == nil {
		status.Model = v
	}
	if v, err := getMetaWithQuerier(ctx, q, MetaLastIndexedAt); err == nil {
		status.LastIndexedAt, _ = time.Parse(time.RFC3339, v)
	}

	var pageCount, pageSize int
	if err := q.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = q.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	var ftsRows int
	ftsErr := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM routes_fts").Scan(&ftsRows)

	status.Health = HealthStatus{
		DatabaseAccessible:  true,
		EmbeddingsAvailable: status.EmbeddingsCount > 0,
		FTSIndexBuilt:       ftsErr == nil && ftsRows == status.RoutesCount,
	}

	return status, nil
}

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*IndexStatus, error) {
	return getStatusWithQuerier(ctx, s.querier())
}

// Transaction implementations

func (t *sqliteTx) UpsertRoute(ctx context.Context, route *types.Route) error {
	return upsertRouteWithQuerier(ctx, t.querier(), route)
}

func (t *sqliteTx) GetRoute(ctx context.Context, routeID int64) (*types.Route, error) {
	return getRouteWithQuerier(ctx, t.querier(), routeID)
}

func (t *sqliteTx) GetRoutes(ctx context.Context, routeIDs []int64) ([]*types.Route, error) {
	return getRoutesWithQuerier(ctx, t.querier(), routeIDs)
}

func (t *sqliteTx) DeleteAll(ctx context.Context) error {
	return deleteAllWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) UpsertEmbedding(ctx context.Context, embedding *Embedding) error {
	return upsertEmbeddingWithQuerier(ctx, t.querier(), embedding)
}

func (t *sqliteTx) GetEmbedding(ctx context.Context, routeID int64) (*Embedding, error) {
	return getEmbeddingWithQuerier(ctx, t.querier(), routeID)
}

func (t *sqliteTx) DeleteEmbedding(ctx context.Context, routeID int64) error {
	return deleteEmbeddingWithQuerier(ctx, t.querier(), routeID)
}

func (t *sqliteTx) QueryRoutes(ctx context.Context, filters *Filters, limit int) ([]TextResult, int, error) {
	return queryRoutes(ctx, t.querier(), filters, limit)
}

func (t *sqliteTx) SearchText(ctx context.Context, query string, filters *Filters, limit int) ([]TextResult, int, error) {
	return searchText(ctx, t.querier(), query, filters, limit)
}

func (t *sqliteTx) SearchVector(ctx context.Context, vector []float32, filters *Filters, limit int) ([]VectorResult, int, error) {
	return searchVector(ctx, t.querier(), vector, filters, limit)
}

func (t *sqliteTx) SetMeta(ctx context.Context, key, value string) error {
	return setMetaWithQuerier(ctx, t.querier(), key, value)
}

func (t *sqliteTx) GetMeta(ctx context.Context, key string) (string, error) {
	return getMetaWithQuerier(ctx, t.querier(), key)
}

func (t *sqliteTx) GetStatus(ctx context.Context) (*IndexStatus, error) {
	return getStatusWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) Exists(ctx context.Context) (bool, error) {
	return existsWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, ErrNestedTx
}
