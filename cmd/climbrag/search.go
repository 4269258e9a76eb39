package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/climbrag/internal/embedder"
	"github.com/dshills/climbrag/internal/searcher"
	"github.com/dshills/climbrag/pkg/types"
)

var (
	searchQuery searcher.Query
	searchLat   float64
	searchLon   float64
	searchRate  float64
	searchStyle string
	searchMode  string
	searchJSON  bool
)

// searchCmd runs one search_climbs query from the command line
var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search the route index",
	Example: `  climbrag search --description "steep finger crack" --style trad
  climbrag search --lat 44.367 --lon -121.14 --radius 10 --grade 5.10a --grade 5.10b`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := searchQuery
		flags := cmd.Flags()
		if flags.Changed("lat") || flags.Changed("lon") {
			if !flags.Changed("lat") || !flags.Changed("lon") {
				return fmt.Errorf("--lat and --lon must be given together")
			}
			q.Location = &types.Location{Lat: searchLat, Lon: searchLon}
		}
		if flags.Changed("rating-min") {
			q.RatingMin = &searchRate
		}
		q.Style = types.Style(searchStyle)
		q.Mode = searcher.SearchMode(searchMode)
		return runSearch(q)
	},
}

func init() {
	f := searchCmd.Flags()
	f.StringVar(&searchQuery.RouteName, "route-name", "", "route name")
	f.StringVar(&searchQuery.SectorName, "sector-name", "", "sector, wall or crag name")
	f.StringVar(&searchQuery.Description, "description", "", "free text description of the climb")
	f.Float64Var(&searchLat, "lat", 0, "latitude of the search center")
	f.Float64Var(&searchLon, "lon", 0, "longitude of the search center")
	f.Float64Var(&searchQuery.RadiusMiles, "radius", 0, "search radius in miles (default from config)")
	f.StringVar(&searchStyle, "style", "", "climbing style (trad, sport, boulder, ...)")
	f.Float64Var(&searchRate, "rating-min", 0, "minimum average rating")
	f.StringSliceVar(&searchQuery.Grades, "grade", nil, "acceptable grade, repeatable")
	f.IntVar(&searchQuery.Limit, "limit", 0, "maximum routes to return (default from config)")
	f.StringVar(&searchMode, "mode", "", "description ranking: hybrid, vector or keyword")
	f.BoolVar(&searchJSON, "json", false, "print the search_climbs JSON payload")
}

func runSearch(q searcher.Query) error {
	ctx, cancel := signalContext()
	defer cancel()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var emb embedder.Embedder
	if q.Description != "" && q.Mode != searcher.SearchModeKeyword {
		_, provider, err := newProvider()
		if err != nil {
			logger.Warn("query embedder unavailable, using keyword search", "error", err)
		} else {
			defer func() { _ = provider.Close() }()
			emb = provider
		}
	}

	srch := searcher.NewSearcher(store, emb,
		searcher.WithDefaults(cfg.Search.DefaultLimit, cfg.Search.DefaultRadiusMiles),
		searcher.WithLogger(logger),
		searcher.WithCacheTTL(0))

	res, err := srch.SearchClimbs(ctx, q)
	if err != nil {
		return err
	}

	if searchJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Payload())
	}

	fmt.Printf("%d routes match (%s, %s)\n", res.Total, res.Mode, res.Duration)
	for _, r := range res.Results {
		fmt.Printf("%3d. %-32s %-7s %-8s %s", r.Rank, r.Route.RouteName, r.Route.Grade, r.Route.Style, r.Route.SectorName)
		if r.Route.Rating != nil {
			fmt.Printf("  ★%.1f", *r.Route.Rating)
		}
		fmt.Printf("  (%.4f)\n", r.Score)
	}
	return nil
}
