package geo

// Point represents a geographic coordinate (a route waypoint, a landmark
// position or a live GPS fix)
type Point struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Polyline represents an encoded polyline with its decoded points
type Polyline struct {
	EncodedPolyline string  `json:"encoded_polyline"`
	Points          []Point `json:"points"`
}

// Earth's mean radius in meters
const EarthRadiusMeters = 6371000.0
