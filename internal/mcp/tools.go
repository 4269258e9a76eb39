package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/climbrag/internal/searcher"
	"github.com/dshills/climbrag/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeNotIndexed    = -32003 // No ingest has completed
)

// handleSearchClimbs handles the search_climbs tool invocation
func (s *Server) handleSearchClimbs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		if request.Params.Arguments != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
		}
		args = map[string]interface{}{}
	}

	query, err := parseQuery(args)
	if err != nil {
		return nil, err
	}

	res, err := s.searcher.SearchClimbs(ctx, query)
	switch {
	case errors.Is(err, searcher.ErrIndexNotFound):
		return nil, newMCPError(ErrorCodeNotIndexed, "route index does not exist, run ingest first", nil)
	case errors.Is(err, searcher.ErrInvalidQuery):
		return nil, newMCPError(ErrorCodeInvalidParams, err.Error(), nil)
	case err != nil:
		s.logger.Error("search failed", "error", err)
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	s.logger.Info("search_climbs",
		"mode", res.Mode,
		"total", res.Total,
		"returned", len(res.Results),
		"cache_hit", res.CacheHit,
		"duration", res.Duration.Round(time.Microsecond))

	return mcp.NewToolResultText(formatJSON(res.Payload())), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	exists, err := s.storage.Exists(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read index", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if !exists {
		response := map[string]interface{}{
			"indexed": false,
			"message": "Route index not built. Run `climbrag ingest` to load the dataset.",
		}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}

	status, err := s.storage.GetStatus(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"indexed":          true,
		"routes_count":     status.RoutesCount,
		"embeddings_count": status.EmbeddingsCount,
		"dimension":        status.Dimension,
		"model":            status.Model,
		"index_size_mb":    math.Round(status.IndexSizeMB*100) / 100,
		"last_indexed_at":  status.LastIndexedAt.UTC().Format(time.RFC3339),
		"last_indexed":     humanize.RelTime(status.LastIndexedAt, s.now(), "ago", "from now"),
		"health": map[string]interface{}{
			"database_accessible":  status.Health.DatabaseAccessible,
			"embeddings_available": status.Health.EmbeddingsAvailable,
			"fts_index_built":      status.Health.FTSIndexBuilt,
		},
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// parseQuery converts tool arguments into a search query. Range checks beyond
// types are left to the searcher.
func parseQuery(args map[string]interface{}) (searcher.Query, error) {
	q := searcher.Query{
		RouteName:   getStringDefault(args, "route_name", ""),
		SectorName:  getStringDefault(args, "sector_name", ""),
		Description: getStringDefault(args, "description", ""),
		Style:       types.Style(getStringDefault(args, "style", "")),
	}

	if v, ok := args["limit"]; ok && v != nil {
		n, isNum := v.(float64)
		if !isNum || n != math.Trunc(n) {
			return q, invalidParam("limit", v, "must be an integer")
		}
		if n < 1 || n > searcher.MaxLimit {
			return q, invalidParam("limit", v, fmt.Sprintf("must be between 1 and %d", searcher.MaxLimit))
		}
		q.Limit = int(n)
	}

	if v, ok := args["location"]; ok && v != nil {
		loc, isObj := v.(map[string]interface{})
		if !isObj {
			return q, invalidParam("location", v, "must be an object with lat and lon")
		}
		lat, latOK := loc["lat"].(float64)
		lon, lonOK := loc["lon"].(float64)
		if !latOK || !lonOK {
			return q, invalidParam("location", v, "lat and lon are required numbers")
		}
		q.Location = &types.Location{Lat: lat, Lon: lon}
	}

	if v, ok := args["location_radius_miles"]; ok {
		r, isNum := v.(float64)
		if !isNum || r <= 0 {
			return q, invalidParam("location_radius_miles", v, "must be a positive number")
		}
		q.RadiusMiles = r
	}

	if v, ok := args["rating_min"]; ok && v != nil {
		r, isNum := v.(float64)
		if !isNum {
			return q, invalidParam("rating_min", v, "must be a number")
		}
		q.RatingMin = &r
	}

	if v, ok := args["grades"]; ok && v != nil {
		list, isList := v.([]interface{})
		if !isList {
			return q, invalidParam("grades", v, "must be an array of strings")
		}
		for _, item := range list {
			g, isStr := item.(string)
			if !isStr {
				return q, invalidParam("grades", v, "must be an array of strings")
			}
			q.Grades = append(q.Grades, g)
		}
	}

	return q, nil
}

func invalidParam(name string, value interface{}, reason string) error {
	return newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("invalid %s", name), map[string]interface{}{
		"param":  name,
		"value":  value,
		"reason": reason,
	})
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
