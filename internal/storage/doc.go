// Package storage provides the SQLite route index.
//
// # Database Schema
//
// Tables:
//   - routes: one row per climbing route, keyed by route_id
//   - routes_fts: FTS5 index over route_name, sector_name and description,
//     maintained by triggers on routes
//   - route_embeddings: description vectors as little-endian float32 blobs
//   - index_meta: key/value facts about the last ingest run
//   - schema_version: applied migrations, ordered by semver
//
// # Searching
//
// Three entry points share one Filters type:
//
//	hits, total, err := db.SearchText(ctx, "splitter crack", &storage.Filters{
//	    SectorName: "Lower Town Wall",
//	    RatingMin:  &minRating,
//	}, 10)
//
// SearchText ranks by bm25. SearchVector ranks by cosine similarity computed
// in Go. QueryRoutes applies filters only and orders by rating. Every text
// clause requires all of its words (prefix-matched) in its column, and every
// set filter must hold. total counts every match before the limit.
//
// Location filters use a bounding box in SQL and an exact haversine check on
// the candidates.
//
// # Transactions
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	for _, r := range routes {
//	    if err := tx.UpsertRoute(ctx, r); err != nil {
//	        return err
//	    }
//	}
//	return tx.Commit()
//
// # Build Tags
//
// The default build uses modernc.org/sqlite and needs no C compiler. Building
// with -tags "sqlite_cgo,sqlite_fts5" switches to github.com/mattn/go-sqlite3.
package storage
