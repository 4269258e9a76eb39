// Package mcp implements the Model Context Protocol (MCP) server for climbrag.
//
// The server exposes two tools to chat clients:
//   - search_climbs: Find routes by name, sector, description, location, style, rating or grade
//   - get_status: Report route index statistics
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport. Logs go to stderr so
// stdout carries only protocol messages:
//
//	climbrag serve
//
// # Tool: search_climbs
//
//	Request:
//	{
//	  "name": "search_climbs",
//	  "arguments": {
//	    "description": "steep finger crack",
//	    "location": {"lat": 44.367, "lon": -121.14},
//	    "location_radius_miles": 25,
//	    "style": "trad",
//	    "grades": ["5.10a", "5.10b"],
//	    "limit": 5
//	  }
//	}
//
//	Response:
//	{
//	  "total": 12,
//	  "routes": [
//	    {
//	      "route_name": "Crack of Doom",
//	      "route_id": 105788951,
//	      "sector_id": "105788889",
//	      "sector_name": "Dihedrals",
//	      "grade": "5.10a",
//	      "style": "trad",
//	      "description": "...",
//	      "rating": 3.4,
//	      "location": {"lat": 44.367, "lon": -121.14},
//	      "score": 0.0325
//	    }
//	  ]
//	}
//
// # Errors
//
// Tool failures are returned as *MCPError with JSON-RPC codes:
//   - -32602: invalid parameter (limit out of range, bad location, unknown style)
//   - -32003: no ingest has completed yet
//   - -32603: internal failure
//
// # MCP Client Configuration
//
//	{
//	  "mcpServers": {
//	    "climbrag": {
//	      "command": "climbrag",
//	      "args": ["serve", "--config", "/etc/climbrag.yaml"]
//	    }
//	  }
//	}
package mcp
