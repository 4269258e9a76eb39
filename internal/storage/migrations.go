package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.1.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
}

const migrationV1Up = `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS routes (
    route_id INTEGER PRIMARY KEY,
    sector_id TEXT,
    route_name TEXT NOT NULL,
    sector_name TEXT,
    grade TEXT NOT NULL,
    style TEXT,
    lat REAL,
    lon REAL,
    rating REAL,
    description TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_routes_grade ON routes(grade);
CREATE INDEX IF NOT EXISTS idx_routes_style ON routes(style);
CREATE INDEX IF NOT EXISTS idx_routes_rating ON routes(rating);
CREATE INDEX IF NOT EXISTS idx_routes_lat_lon ON routes(lat, lon);

CREATE TABLE IF NOT EXISTS route_embeddings (
    route_id INTEGER PRIMARY KEY,
    vector BLOB NOT NULL,
    dimension INTEGER NOT NULL,
    model TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (route_id) REFERENCES routes(route_id) ON DELETE CASCADE
);

CREATE VIRTUAL TABLE IF NOT EXISTS routes_fts USING fts5(
    route_name,
    sector_name,
    description,
    content='routes',
    content_rowid='route_id'
);

CREATE TRIGGER IF NOT EXISTS routes_fts_insert AFTER INSERT ON routes BEGIN
    INSERT INTO routes_fts(rowid, route_name, sector_name, description)
    VALUES (new.route_id, new.route_name, new.sector_name, new.description);
END;

CREATE TRIGGER IF NOT EXISTS routes_fts_delete AFTER DELETE ON routes BEGIN
    INSERT INTO routes_fts(routes_fts, rowid, route_name, sector_name, description)
    VALUES ('delete', old.route_id, old.route_name, old.sector_name, old.description);
END;

CREATE TRIGGER IF NOT EXISTS routes_fts_update AFTER UPDATE ON routes BEGIN
    INSERT INTO routes_fts(routes_fts, rowid, route_name, sector_name, description)
    VALUES ('delete', old.route_id, old.route_name, old.sector_name, old.description);
    INSERT INTO routes_fts(rowid, route_name, sector_name, description)
    VALUES (new.route_id, new.route_name, new.sector_name, new.description);
END;
`

const migrationV1Down = `
DROP TRIGGER IF EXISTS routes_fts_update;
DROP TRIGGER IF EXISTS routes_fts_delete;
DROP TRIGGER IF EXISTS routes_fts_insert;
DROP TABLE IF EXISTS routes_fts;
DROP TABLE IF EXISTS route_embeddings;
DROP TABLE IF EXISTS routes;
DROP TABLE IF EXISTS schema_version;
`

// Key/value metadata written at the end of each ingest run
const migrationV11Up = `
CREATE TABLE IF NOT EXISTS index_meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationV11Down = `
DROP TABLE IF EXISTS index_meta;
`

// currentVersion returns the latest applied schema version, 0.0.0 when none
func currentVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	latest := semver.MustParse("0.0.0")
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to read schema_version: %w", err)
		}
		parsed, err := semver.NewVersion(v)
		if err != nil {
			return nil, fmt.Errorf("invalid current schema version %s: %w", v, err)
		}
		if parsed.GreaterThan(latest) {
			latest = parsed
		}
	}
	return latest, rows.Err()
}

// ApplyMigrations runs every migration newer than the recorded schema version
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !current.LessThan(migrationVersion) {
			continue // Already applied
		}

		if _, err := db.ExecContext(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}

		current = migrationVersion
	}

	return nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}
	if current.Equal(semver.MustParse("0.0.0")) {
		return fmt.Errorf("no migrations to rollback")
	}

	var migration *Migration
	for i := range AllMigrations {
		v, err := semver.NewVersion(AllMigrations[i].Version)
		if err == nil && v.Equal(current) {
			migration = &AllMigrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", current)
	}

	if _, err := db.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
	}

	// The first migration's down step drops schema_version itself
	if migration.Version == AllMigrations[0].Version {
		return nil
	}

	if _, err := db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", migration.Version, err)
	}

	return nil
}
