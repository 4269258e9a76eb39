package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/climbrag/internal/searcher"
	"github.com/dshills/climbrag/pkg/types"
)

// searchClimbsTool returns the tool definition for search_climbs
func searchClimbsTool() mcp.Tool {
	styles := make([]string, len(types.KnownStyles))
	for i, s := range types.KnownStyles {
		styles[i] = string(s)
	}

	return mcp.Tool{
		Name: "search_climbs",
		Description: "Search for climbing routes. Every parameter is optional and all supplied " +
			"parameters must match. Use description for the character of the climb " +
			"(e.g. 'steep finger crack', 'slabby face with small holds').",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"route_name": map[string]interface{}{
					"type":        "string",
					"description": "Name of the route",
				},
				"sector_name": map[string]interface{}{
					"type":        "string",
					"description": "Name of the sector, wall or crag the route is on",
				},
				"description": map[string]interface{}{
					"type":        "string",
					"description": "Free text description of the climb, searched semantically and by keyword",
				},
				"location": map[string]interface{}{
					"type":        "object",
					"description": "Center point for a radius search",
					"properties": map[string]interface{}{
						"lat": map[string]interface{}{
							"type":    "number",
							"minimum": -90,
							"maximum": 90,
						},
						"lon": map[string]interface{}{
							"type":    "number",
							"minimum": -180,
							"maximum": 180,
						},
					},
					"required": []string{"lat", "lon"},
				},
				"location_radius_miles": map[string]interface{}{
					"type":             "number",
					"description":      "Radius around location in miles",
					"default":          searcher.DefaultRadiusMiles,
					"exclusiveMinimum": 0,
				},
				"style": map[string]interface{}{
					"type":        "string",
					"description": "Climbing style",
					"enum":        styles,
				},
				"rating_min": map[string]interface{}{
					"type":        "number",
					"description": "Minimum average user rating (0-4)",
					"minimum":     0,
				},
				"grades": map[string]interface{}{
					"type":        "array",
					"description": "Acceptable grades, YDS (5.10a) or V scale (V4)",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of routes to return (1-100)",
					"default":     searcher.DefaultLimit,
					"minimum":     1,
					"maximum":     searcher.MaxLimit,
				},
			},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report route index statistics: route and embedding counts, size and last ingest time",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
