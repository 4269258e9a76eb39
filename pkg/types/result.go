package types

// SearchResult represents a single search hit with relevance information
type SearchResult struct {
	Rank int // Position in result set (1-based)

	// Scoring
	Score float64 // bm25, cosine, or RRF-fused score depending on the query

	Route *Route
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if sr.Score < 0 {
		return ErrInvalidRelevanceScore
	}

	if sr.Route == nil {
		return ErrMissingRoute
	}

	return nil
}
