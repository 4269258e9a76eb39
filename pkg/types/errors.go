package types

import "errors"

// Domain errors for type validation
var (
	// Route errors
	ErrInvalidRouteID   = errors.New("invalid route ID")
	ErrMissingRouteName = errors.New("route name is required")
	ErrMissingGrade     = errors.New("grade is required")
	ErrInvalidLocation  = errors.New("location must have finite lat/lon in range")
	ErrInvalidStyle     = errors.New("invalid route style")

	// Search result errors
	ErrInvalidRank           = errors.New("rank must be >= 1")
	ErrInvalidRelevanceScore = errors.New("relevance score must be non-negative")
	ErrMissingRoute          = errors.New("route is required")
)
