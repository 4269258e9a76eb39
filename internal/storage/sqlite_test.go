package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/climbrag/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func float(f float64) *float64 { return &f }

var (
	smithRock = types.Location{Lat: 44.3672, Lon: -121.1406}
	yosemite  = types.Location{Lat: 37.7459, Lon: -119.5332}
)

// fixtureRoutes is a small index covering every filter dimension
func fixtureRoutes() []*types.Route {
	return []*types.Route{
		{
			RouteID: 1, SectorID: "s-1", RouteName: "Stairway to Heaven", SectorName: "Lower Town Wall",
			Grade: "5.12a", Style: types.StyleSport, Location: &smithRock, Rating: float(3.5),
			Description: "Gorgeous lieback flake with a crux at the roof",
		},
		{
			RouteID: 2, SectorID: "s-2", RouteName: "Heaven Can Wait", SectorName: "Upper Gorge",
			Grade: "5.10b", Style: types.StyleTrad, Location: &types.Location{Lat: 44.37, Lon: -121.14}, Rating: float(2.0),
			Description: "Hand crack splitter through the roof",
		},
		{
			RouteID: 3, SectorID: "s-3", RouteName: "Zebra", SectorName: "Lower Town Wall",
			Grade: "V4", Style: types.StyleBoulder, Location: &yosemite,
			Description: "Crimpy face problem",
		},
		{
			RouteID: 4, SectorID: "s-4", RouteName: "Crack of Doom", SectorName: "Gorge",
			Grade: "5.10b", Style: types.StyleTrad, Rating: float(4.0),
			Description: "Classic splitter crack",
		},
	}
}

func seedRoutes(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()
	for _, r := range fixtureRoutes() {
		require.NoError(t, s.UpsertRoute(ctx, r))
	}
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	assert.NotNil(t, storage.db)
	assert.NotEmpty(t, BuildMode)
}

func TestUpsertAndGetRoute(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	route := fixtureRoutes()[0]
	require.NoError(t, storage.UpsertRoute(ctx, route))

	got, err := storage.GetRoute(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, route.RouteName, got.RouteName)
	assert.Equal(t, route.SectorName, got.SectorName)
	assert.Equal(t, route.SectorID, got.SectorID)
	assert.Equal(t, types.StyleSport, got.Style)
	require.NotNil(t, got.Location)
	assert.InDelta(t, smithRock.Lat, got.Location.Lat, 1e-9)
	require.NotNil(t, got.Rating)
	assert.InDelta(t, 3.5, *got.Rating, 1e-9)
	assert.Nil(t, got.DescriptionVector)

	// Update replaces every column
	route.Description = "Rebolted in 2020"
	route.Rating = nil
	route.Location = nil
	require.NoError(t, storage.UpsertRoute(ctx, route))

	got, err = storage.GetRoute(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Rebolted in 2020", got.Description)
	assert.Nil(t, got.Rating)
	assert.Nil(t, got.Location)
}

func TestUpsertRoute_Invalid(t *testing.T) {
	storage := setupTestDB(t)

	err := storage.UpsertRoute(context.Background(), &types.Route{RouteID: 9, Grade: "5.9"})
	assert.ErrorIs(t, err, types.ErrMissingRouteName)
}

func TestGetRoute_NotFound(t *testing.T) {
	storage := setupTestDB(t)

	_, err := storage.GetRoute(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetRoutes_PreservesOrder(t *testing.T) {
	storage := setupTestDB(t)
	seedRoutes(t, storage)

	routes, err := storage.GetRoutes(context.Background(), []int64{3, 99, 1, 2})
	require.NoError(t, err)
	require.Len(t, routes, 3)
	assert.Equal(t, int64(3), routes[0].RouteID)
	assert.Equal(t, int64(1), routes[1].RouteID)
	assert.Equal(t, int64(2), routes[2].RouteID)

	routes, err = storage.GetRoutes(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, routes)
}

func TestFTSFollowsUpdates(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedRoutes(t, storage)

	_, total, err := storage.SearchText(ctx, "crimpy", nil, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	route := fixtureRoutes()[2]
	route.Description = "Slopey mantle"
	require.NoError(t, storage.UpsertRoute(ctx, route))

	_, total, err = storage.SearchText(ctx, "crimpy", nil, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	hits, total, err := storage.SearchText(ctx, "mantle", nil, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, int64(3), hits[0].RouteID)
}

func TestDeleteAll(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedRoutes(t, storage)
	require.NoError(t, storage.UpsertEmbedding(ctx, &Embedding{RouteID: 1, Vector: SerializeVector([]float32{1, 0}), Dimension: 2, Model: "m"}))
	require.NoError(t, storage.SetMeta(ctx, MetaLastIndexedAt, time.Now().UTC().Format(time.RFC3339)))

	require.NoError(t, storage.DeleteAll(ctx))

	status, err := storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.RoutesCount)
	assert.Equal(t, 0, status.EmbeddingsCount)

	_, total, err := storage.SearchText(ctx, "roof", nil, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	exists, err := storage.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestEmbeddingRoundTrip(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedRoutes(t, storage)

	vector := []float32{0.25, -0.5, 1}
	embedding := &Embedding{RouteID: 2, Vector: SerializeVector(vector), Dimension: 3, Model: "local-hashing"}
	require.NoError(t, storage.UpsertEmbedding(ctx, embedding))
	assert.False(t, embedding.CreatedAt.IsZero())

	got, err := storage.GetEmbedding(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, vector, DeserializeVector(got.Vector))
	assert.Equal(t, 3, got.Dimension)
	assert.Equal(t, "local-hashing", got.Model)

	_, err = storage.GetEmbedding(ctx, 3)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEmbeddingRequiresRoute(t *testing.T) {
	storage := setupTestDB(t)

	err := storage.UpsertEmbedding(context.Background(), &Embedding{RouteID: 77, Vector: []byte{0, 0, 0, 0}, Dimension: 1, Model: "m"})
	assert.Error(t, err) // foreign key
}

func TestMetaAndExists(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	_, err := storage.GetMeta(ctx, MetaModel)
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := storage.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, storage.SetMeta(ctx, MetaModel, "a"))
	require.NoError(t, storage.SetMeta(ctx, MetaModel, "b"))
	v, err := storage.GetMeta(ctx, MetaModel)
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	require.NoError(t, storage.SetMeta(ctx, MetaLastIndexedAt, "2026-10-14T12:00:00Z"))
	exists, err = storage.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestGetStatus(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedRoutes(t, storage)

	for id := int64(1); id <= 3; id++ {
		require.NoError(t, storage.UpsertEmbedding(ctx, &Embedding{
			RouteID: id, Vector: SerializeVector([]float32{1, 2, 3}), Dimension: 3, Model: "m",
		}))
	}
	require.NoError(t, storage.SetMeta(ctx, MetaDimension, "3"))
	require.NoError(t, storage.SetMeta(ctx, MetaModel, "m"))
	require.NoError(t, storage.SetMeta(ctx, MetaLastIndexedAt, "2026-10-14T12:00:00Z"))

	status, err := storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, status.RoutesCount)
	assert.Equal(t, 3, status.EmbeddingsCount)
	assert.Equal(t, 3, status.Dimension)
	assert.Equal(t, "m", status.Model)
	assert.Equal(t, time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC), status.LastIndexedAt.UTC())
	assert.Greater(t, status.IndexSizeMB, 0.0)
	assert.True(t, status.Health.DatabaseAccessible)
	assert.True(t, status.Health.EmbeddingsAvailable)
	assert.True(t, status.Health.FTSIndexBuilt)
}

func TestTransaction(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	t.Run("rollback discards writes", func(t *testing.T) {
		tx, err := storage.BeginTx(ctx)
		require.NoError(t, err)

		require.NoError(t, tx.UpsertRoute(ctx, fixtureRoutes()[0]))
		got, err := tx.GetRoute(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "Stairway to Heaven", got.RouteName)

		require.NoError(t, tx.Rollback())

		_, err = storage.GetRoute(ctx, 1)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("commit persists writes", func(t *testing.T) {
		tx, err := storage.BeginTx(ctx)
		require.NoError(t, err)

		seedRoutes(t, tx)
		require.NoError(t, tx.SetMeta(ctx, MetaModel, "m"))
		status, err := tx.GetStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, status.RoutesCount)

		require.NoError(t, tx.Commit())

		status, err = storage.GetStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, status.RoutesCount)
		assert.Equal(t, "m", status.Model)
	})

	t.Run("nested transactions are rejected", func(t *testing.T) {
		tx, err := storage.BeginTx(ctx)
		require.NoError(t, err)
		defer func() { _ = tx.Rollback() }()

		_, err = tx.BeginTx(ctx)
		assert.ErrorIs(t, err, ErrNestedTx)
		assert.NoError(t, tx.Close())
	})
}

func TestMigrations(t *testing.T) {
	ctx := context.Background()
	db, err := openDatabase(":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, ApplyMigrations(ctx, db))
	v, err := currentVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())

	// Re-applying is a no-op
	require.NoError(t, ApplyMigrations(ctx, db))

	require.NoError(t, RollbackMigration(ctx, db))
	v, err = currentVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v.String())

	var name string
	err = db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='index_meta'").Scan(&name)
	assert.Error(t, err)

	require.NoError(t, RollbackMigration(ctx, db))
	v, err = currentVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0", v.String())

	assert.Error(t, RollbackMigration(ctx, db))

	require.NoError(t, ApplyMigrations(ctx, db))
	v, err = currentVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())
}

func TestDeleteEmbedding(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedRoutes(t, storage)

	require.NoError(t, storage.UpsertEmbedding(ctx, &Embedding{RouteID: 1, Vector: SerializeVector([]float32{1}), Dimension: 1, Model: "m"}))
	require.NoError(t, storage.DeleteEmbedding(ctx, 1))
	require.NoError(t, storage.DeleteEmbedding(ctx, 1)) // absent is fine

	_, err := storage.GetEmbedding(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}
