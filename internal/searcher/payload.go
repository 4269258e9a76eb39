package searcher

import "github.com/dshills/climbrag/pkg/types"

// RoutePayload is one route as returned to tool callers
type RoutePayload struct {
	RouteName   string          `json:"route_name"`
	RouteID     int64           `json:"route_id"`
	SectorID    string          `json:"sector_id"`
	SectorName  string          `json:"sector_name"`
	Grade       string          `json:"grade"`
	Style       types.Style     `json:"style"`
	Description string          `json:"description"`
	Rating      *float64        `json:"rating"`
	Location    *types.Location `json:"location"`
	Score       float64         `json:"score"`
}

// Payload is the search_climbs response body
type Payload struct {
	Total  int            `json:"total"`
	Routes []RoutePayload `json:"routes"`
}

// Payload flattens the result for JSON output. Vectors are never included.
func (r *Result) Payload() Payload {
	p := Payload{Total: r.Total, Routes: make([]RoutePayload, 0, len(r.Results))}
	for _, sr := range r.Results {
		if sr.Route == nil {
			continue
		}
		p.Routes = append(p.Routes, RoutePayload{
			RouteName:   sr.Route.RouteName,
			RouteID:     sr.Route.RouteID,
			SectorID:    sr.Route.SectorID,
			SectorName:  sr.Route.SectorName,
			Grade:       sr.Route.Grade,
			Style:       sr.Route.Style,
			Description: sr.Route.Description,
			Rating:      sr.Route.Rating,
			Location:    sr.Route.Location,
			Score:       sr.Score,
		})
	}
	return p
}
