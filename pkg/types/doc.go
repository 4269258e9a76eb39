// Package types provides shared type definitions for climbrag.
//
// Route is the single document type flowing through the system: the dataset
// loader produces it, the embedding pipeline fills in DescriptionVector, the
// storage layer indexes it and the searcher returns it inside SearchResult.
//
//	route := &types.Route{
//	    RouteID:    106956280,
//	    RouteName:  "Stairway to Heaven",
//	    SectorName: "Drive In Wall",
//	    Grade:      "5.7",
//	    Style:      types.StyleTrad,
//	    Location:   &types.Location{Lat: 42.614, Lon: -91.5625},
//	}
//
// A nil DescriptionVector means no embedding has been computed, either because
// the description is empty or because its batch failed and needs reprocessing.
package types
