package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Record is one row of the OpenBeta curated routes dataset. Column names
// follow the published dataset.
type Record struct {
	RouteName    string       `json:"route_name"`
	ParentSector string       `json:"parent_sector"`
	RouteID      FlexInt      `json:"route_ID"`
	SectorID     FlexString   `json:"sector_ID"`
	TypeString   string       `json:"type_string"`
	YDS          *string      `json:"YDS"`
	Vermin       *string      `json:"Vermin"`
	ParentLoc    []*float64   `json:"parent_loc"`
	Description  []string     `json:"description"`
	Protection   []string     `json:"protection,omitempty"`
	UsersRatings []RatingPair `json:"corrected_users_ratings"`
}

// RatingPair is a [user hash, rating] tuple
type RatingPair struct {
	User   string
	Rating float64
}

// UnmarshalJSON decodes the two-element array form
func (p *RatingPair) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("rating pair: expected 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &p.User); err != nil {
		return fmt.Errorf("rating pair user: %w", err)
	}
	if err := json.Unmarshal(raw[1], &p.Rating); err != nil {
		return fmt.Errorf("rating pair rating: %w", err)
	}
	return nil
}

// MarshalJSON encodes the two-element array form
func (p RatingPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{p.User, p.Rating})
}

// FlexInt accepts an integer written as a JSON number or string. Exports
// from dataframes sometimes carry ids as floats.
type FlexInt int64

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	if n, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		*f = FlexInt(n)
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil || v != float64(int64(v)) {
		return fmt.Errorf("invalid integer id %s", data)
	}
	*f = FlexInt(int64(v))
	return nil
}

// FlexString accepts a JSON string or number
type FlexString string

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s", data)
	}
	*f = FlexString(n.String())
	return nil
}
