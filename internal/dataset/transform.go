package dataset

import (
	"log/slog"
	"math"
	"strings"

	"github.com/dshills/climbrag/pkg/types"
)

// Transform converts records into routes. Records without a route name,
// grade or route id are dropped, as are repeated route ids after the first.
func Transform(records []Record, logger *slog.Logger) []*types.Route {
	if logger == nil {
		logger = slog.Default()
	}

	routes := make([]*types.Route, 0, len(records))
	seen := make(map[int64]struct{}, len(records))
	dropped, duplicates := 0, 0

	for i := range records {
		rec := &records[i]
		route := &types.Route{
			RouteID:     int64(rec.RouteID),
			SectorID:    string(rec.SectorID),
			RouteName:   rec.RouteName,
			SectorName:  rec.ParentSector,
			Grade:       grade(rec),
			Style:       types.Style(strings.ToLower(strings.TrimSpace(rec.TypeString))),
			Location:    location(rec.ParentLoc),
			Rating:      meanRating(rec.UsersRatings),
			Description: strings.Join(rec.Description, "\n"),
		}

		if rec.ParentLoc != nil && route.Location == nil {
			logger.Debug("ignoring invalid location", "route_id", route.RouteID, "parent_loc", formatLoc(rec.ParentLoc))
		}

		if route.RouteName == "" || route.Grade == "" || route.RouteID == 0 {
			dropped++
			continue
		}
		if _, ok := seen[route.RouteID]; ok {
			duplicates++
			continue
		}
		seen[route.RouteID] = struct{}{}
		routes = append(routes, route)
	}

	logger.Info("transformed routes",
		"records", len(records),
		"routes", len(routes),
		"dropped", dropped,
		"duplicates", duplicates)

	return routes
}

func grade(rec *Record) string {
	if rec.YDS != nil && *rec.YDS != "" {
		return *rec.YDS
	}
	if rec.Vermin != nil {
		return *rec.Vermin
	}
	return ""
}

// location reads a [lon, lat] pair
func location(loc []*float64) *types.Location {
	if len(loc) != 2 || loc[0] == nil || loc[1] == nil {
		return nil
	}
	l := types.Location{Lon: *loc[0], Lat: *loc[1]}
	if !l.Valid() {
		return nil
	}
	return &l
}

func meanRating(pairs []RatingPair) *float64 {
	if len(pairs) == 0 {
		return nil
	}
	var sum float64
	for _, p := range pairs {
		sum += p.Rating
	}
	mean := sum / float64(len(pairs))
	if math.IsNaN(mean) || math.IsInf(mean, 0) {
		return nil
	}
	return &mean
}

func formatLoc(loc []*float64) []interface{} {
	out := make([]interface{}, len(loc))
	for i, v := range loc {
		if v == nil {
			out[i] = nil
		} else {
			out[i] = *v
		}
	}
	return out
}
