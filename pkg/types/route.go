package types

import "math"

// Style is the climbing discipline of a route
type Style string

const (
	StyleTrad    Style = "trad"
	StyleSport   Style = "sport"
	StyleBoulder Style = "boulder"
	StyleMixed   Style = "mixed"
	StyleTR      Style = "tr"
	StyleAid     Style = "aid"
	StyleIce     Style = "ice"
	StyleAlpine  Style = "alpine"
)

// KnownStyles lists the styles accepted by search filters
var KnownStyles = []Style{
	StyleTrad, StyleSport, StyleBoulder, StyleMixed,
	StyleTR, StyleAid, StyleIce, StyleAlpine,
}

// Location is a WGS84 coordinate
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether both coordinates are finite and in range
func (l Location) Valid() bool {
	if math.IsNaN(l.Lat) || math.IsInf(l.Lat, 0) || math.IsNaN(l.Lon) || math.IsInf(l.Lon, 0) {
		return false
	}
	return l.Lat >= -90 && l.Lat <= 90 && l.Lon >= -180 && l.Lon <= 180
}

// Route is a climbing route document as indexed for search.
//
// Description is mutable: the embedding pipeline truncates descriptions that
// exceed the provider's token ceiling and writes the shortened text back.
// DescriptionVector is nil until an embedding has been assigned.
type Route struct {
	// Identification
	RouteID  int64  `json:"route_id"`
	SectorID string `json:"sector_id"`

	// Naming
	RouteName  string `json:"route_name"`
	SectorName string `json:"sector_name"`

	// Classification
	Grade string `json:"grade"`
	Style Style  `json:"style"`

	// Geo and community data, nullable
	Location *Location `json:"location"`
	Rating   *float64  `json:"rating"`

	// Embedded content
	Description       string    `json:"description"`
	DescriptionVector []float32 `json:"description_vector"`
}

// HasVector reports whether an embedding has been assigned
func (r *Route) HasVector() bool {
	return r.DescriptionVector != nil
}

// Validate checks the fields an indexed route must carry
func (r *Route) Validate() error {
	if r.RouteID == 0 {
		return ErrInvalidRouteID
	}
	if r.RouteName == "" {
		return ErrMissingRouteName
	}
	if r.Grade == "" {
		return ErrMissingGrade
	}
	if r.Location != nil && !r.Location.Valid() {
		return ErrInvalidLocation
	}
	return nil
}

// ValidateStyle checks that a style is one of KnownStyles
func ValidateStyle(s Style) error {
	for _, known := range KnownStyles {
		if s == known {
			return nil
		}
	}
	return ErrInvalidStyle
}
