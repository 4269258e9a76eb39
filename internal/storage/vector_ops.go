package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/dshills/climbrag/pkg/types"
)

// earthRadiusMiles is the mean Earth radius used for route distances
const earthRadiusMiles = 3958.8

// milesPerDegreeLat is the length of one degree of latitude
const milesPerDegreeLat = 69.0

// searchVector ranks embedded routes by cosine similarity to queryVector.
// Vectors are compared in Go; there is no SQL vector extension in either build.
func searchVector(ctx context.Context, q querier, queryVector []float32, filters *Filters, limit int) ([]VectorResult, int, error) {
	if len(queryVector) == 0 {
		return nil, 0, fmt.Errorf("empty query vector")
	}

	sqlQuery := `
		SELECT e.route_id, e.vector, r.lat, r.lon
		FROM route_embeddings e
		INNER JOIN routes r ON r.route_id = e.route_id
		WHERE 1=1
	`
	clause, args := buildFilterClause(filters, true)
	sqlQuery += clause

	rows, err := q.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates, err := computeSimilarityScores(rows, queryVector, filters)
	if err != nil {
		return nil, 0, err
	}

	sortCandidates(candidates)
	return buildVectorResults(candidates, limit), len(candidates), nil
}

// searchText runs a bm25-ranked FTS5 query. The description words of query
// and the name filters are all required to match in their own columns.
func searchText(ctx context.Context, q querier, query string, filters *Filters, limit int) ([]TextResult, int, error) {
	var parts []string
	if expr := columnMatch("description", query); expr != "" {
		parts = append(parts, expr)
	}
	if names := nameMatch(filters); names != "" {
		parts = append(parts, names)
	}
	if len(parts) == 0 {
		return nil, 0, ErrEmptyQuery
	}

	sqlQuery := `
		SELECT r.route_id, bm25(routes_fts) AS score, r.lat, r.lon
		FROM routes_fts
		INNER JOIN routes r ON r.route_id = routes_fts.rowid
		WHERE routes_fts MATCH ?
	`
	args := []interface{}{strings.Join(parts, " AND ")}

	clause, filterArgs := buildFilterClause(filters, false)
	sqlQuery += clause
	args = append(args, filterArgs...)

	// bm25 is negative, lower is better
	sqlQuery += " ORDER BY score, r.route_id"

	rows, err := q.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTextResults(rows, filters, limit, true)
}

// queryRoutes returns routes matching filters alone, best rated first. Every
// hit scores 1.
func queryRoutes(ctx context.Context, q querier, filters *Filters, limit int) ([]TextResult, int, error) {
	sqlQuery := `
		SELECT r.route_id, 1.0 AS score, r.lat, r.lon
		FROM routes r
		WHERE 1=1
	`
	clause, args := buildFilterClause(filters, true)
	sqlQuery += clause
	sqlQuery += " ORDER BY r.rating IS NULL, r.rating DESC, r.route_id"

	rows, err := q.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query routes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTextResults(rows, filters, limit, false)
}

// buildFilterClause renders the structured filters as AND conditions on the
// routes alias r. The radius is approximated here by a bounding box and
// checked exactly by withinRadius.
func buildFilterClause(filters *Filters, includeNames bool) (string, []interface{}) {
	if filters == nil {
		return "", nil
	}

	var (
		sb   strings.Builder
		args []interface{}
	)

	if includeNames {
		if names := nameMatch(filters); names != "" {
			sb.WriteString(" AND r.route_id IN (SELECT rowid FROM routes_fts WHERE routes_fts MATCH ?)")
			args = append(args, names)
		}
	}

	if filters.Style != "" {
		sb.WriteString(" AND r.style = ?")
		args = append(args, strings.ToLower(string(filters.Style)))
	}

	if filters.RatingMin != nil {
		sb.WriteString(" AND r.rating >= ?")
		args = append(args, *filters.RatingMin)
	}

	if len(filters.Grades) > 0 {
		placeholders := make([]string, len(filters.Grades))
		for i, g := range filters.Grades {
			placeholders[i] = "?"
			args = append(args, g)
		}
		sb.WriteString(" AND r.grade IN (" + strings.Join(placeholders, ",") + ")")
	}

	if filters.Near != nil {
		minLat, maxLat, minLon, maxLon, lonBounded := boundingBox(*filters.Near, filters.RadiusMiles)
		sb.WriteString(" AND r.lat BETWEEN ? AND ?")
		args = append(args, minLat, maxLat)
		if lonBounded {
			sb.WriteString(" AND r.lon BETWEEN ? AND ?")
			args = append(args, minLon, maxLon)
		}
	}

	return sb.String(), args
}

// nameMatch builds the FTS5 expression for the route and sector name filters
func nameMatch(filters *Filters) string {
	if filters == nil {
		return ""
	}
	var parts []string
	if expr := columnMatch("route_name", filters.RouteName); expr != "" {
		parts = append(parts, expr)
	}
	if expr := columnMatch("sector_name", filters.SectorName); expr != "" {
		parts = append(parts, expr)
	}
	return strings.Join(parts, " AND ")
}

// ftsTokenPattern matches the runs the unicode61 tokenizer indexes as words
var ftsTokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// columnMatch requires every word of text to appear in column. Words are
// quoted prefix terms, so FTS5 operators in user input are inert and
// "stair" matches "Stairway".
func columnMatch(column, text string) string {
	tokens := ftsTokenPattern.FindAllString(text, -1)
	if len(tokens) == 0 {
		return ""
	}
	terms := make([]string, len(tokens))
	for i, tok := range tokens {
		terms[i] = `"` + tok + `"*`
	}
	return column + " : (" + strings.Join(terms, " AND ") + ")"
}

// boundingBox returns the lat/lon box enclosing a circle of radius miles.
// lonBounded is false when the circle reaches a pole or the antimeridian.
func boundingBox(center types.Location, radiusMiles float64) (minLat, maxLat, minLon, maxLon float64, lonBounded bool) {
	dLat := radiusMiles / milesPerDegreeLat
	minLat = math.Max(center.Lat-dLat, -90)
	maxLat = math.Min(center.Lat+dLat, 90)

	cosLat := math.Cos(center.Lat * math.Pi / 180)
	if maxLat >= 90 || minLat <= -90 || cosLat <= 1e-9 {
		return minLat, maxLat, -180, 180, false
	}

	dLon := radiusMiles / (milesPerDegreeLat * cosLat)
	minLon = center.Lon - dLon
	maxLon = center.Lon + dLon
	if minLon < -180 || maxLon > 180 {
		return minLat, maxLat, -180, 180, false
	}
	return minLat, maxLat, minLon, maxLon, true
}

// withinRadius applies the exact distance check for a Near filter
func withinRadius(filters *Filters, lat, lon sql.NullFloat64) bool {
	if filters == nil || filters.Near == nil {
		return true
	}
	if !lat.Valid || !lon.Valid {
		return false
	}
	return DistanceMiles(*filters.Near, types.Location{Lat: lat.Float64, Lon: lon.Float64}) <= filters.RadiusMiles
}

// computeSimilarityScores scores each embedding row against queryVector
func computeSimilarityScores(rows *sql.Rows, queryVector []float32, filters *Filters) ([]candidate, error) {
	candidates := make([]candidate, 0, 1000)

	for rows.Next() {
		var (
			routeID    int64
			vectorBlob []byte
			lat, lon   sql.NullFloat64
		)
		if err := rows.Scan(&routeID, &vectorBlob, &lat, &lon); err != nil {
			return nil, err
		}

		if !withinRadius(filters, lat, lon) {
			continue
		}

		vector := deserializeVector(vectorBlob)
		if len(vector) != len(queryVector) {
			continue // Dimension mismatch, skip
		}

		candidates = append(candidates, candidate{routeID: routeID, score: cosineSimilarity(queryVector, vector)})
	}

	return candidates, rows.Err()
}

// buildVectorResults converts the first limit candidates; limit <= 0 keeps all
func buildVectorResults(candidates []candidate, limit int) []VectorResult {
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}

	results := make([]VectorResult, limit)
	for i := 0; i < limit; i++ {
		results[i] = VectorResult{
			RouteID:    candidates[i].routeID,
			Similarity: candidates[i].score,
		}
	}
	return results
}

// collectTextResults reads rows in their SQL order, applying the radius check.
// All matching rows are counted; only the first limit are kept.
func collectTextResults(rows *sql.Rows, filters *Filters, limit int, bm25 bool) ([]TextResult, int, error) {
	results := make([]TextResult, 0)
	total := 0

	for rows.Next() {
		var (
			result   TextResult
			lat, lon sql.NullFloat64
		)
		if err := rows.Scan(&result.RouteID, &result.Score, &lat, &lon); err != nil {
			return nil, 0, err
		}

		if !withinRadius(filters, lat, lon) {
			continue
		}

		total++
		if limit > 0 && len(results) >= limit {
			continue
		}

		if bm25 {
			// BM25 scores are typically in range [-50, 0]
			result.Score = 1.0 / (1.0 + math.Abs(result.Score)/50.0)
		}
		results = append(results, result)
	}

	return results, total, rows.Err()
}

// serializeVector converts float32 slice to little-endian bytes
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts little-endian bytes back to float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

type candidate struct {
	routeID int64
	score   float64
}

// sortCandidates orders by score descending, then route id
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].routeID < candidates[j].routeID
	})
}

// Exported helpers

// DistanceMiles is the great-circle (haversine) distance between a and b
func DistanceMiles(a, b types.Location) float64 {
	toRad := math.Pi / 180
	dLat := (b.Lat - a.Lat) * toRad
	dLon := (b.Lon - a.Lon) * toRad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*toRad)*math.Cos(b.Lat*toRad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMiles * math.Asin(math.Min(1, math.Sqrt(h)))
}

// SerializeVector converts float32 slice to bytes (exported for indexer)
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector converts bytes to float32 slice
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity computes cosine similarity between two vectors
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
