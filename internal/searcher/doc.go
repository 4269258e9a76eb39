// Package searcher answers search_climbs queries over the route index.
//
// Every clause of a Query that is set must hold for a route to match. How
// results are ranked depends on which clauses are present:
//   - No text clause: structured filters only, best rated first, score 1
//   - Route or sector name only: bm25 over the name columns
//   - Description: hybrid retrieval when the query embedder matches the
//     index, keyword otherwise
//
// # Basic Usage
//
//	s := searcher.NewSearcher(store, emb)
//
//	res, err := s.SearchClimbs(ctx, searcher.Query{
//	    Description: "splitter hand crack",
//	    Location:    &types.Location{Lat: 44.367, Lon: -121.14},
//	    Style:       types.StyleTrad,
//	})
//
//	for _, r := range res.Results {
//	    fmt.Printf("[%d] %s %s (%.3f)\n", r.Rank, r.Route.RouteName, r.Route.Grade, r.Score)
//	}
//
// # Reciprocal Rank Fusion (RRF)
//
// Hybrid mode fetches twice the limit from each retriever and merges them:
//
//	rrf_score[route_id] += 1 / (k + rank)   for each list the route is in
//
// Where k = 60. A route found by both retrievers outranks a route found by
// one. If one retriever fails the other's ranking is returned.
//
// # Caching
//
// Results are cached for an hour keyed by the normalized query and the index's
// last ingest time, so a new ingest never serves stale routes.
package searcher
