// Package geo holds the spherical geometry used for geofencing.
package geo

import (
	"math"

	"github.com/playperu/geoquest/internal/geoquest"
)

// EarthRadiusMeters is the mean Earth radius used by Distance.
const EarthRadiusMeters = 6371008.8

// Distance returns the great-circle distance in metres between a and b
// using the haversine formula.
func Distance(a, b geoquest.Coordinate) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := lat2 - lat1
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Within reports whether p lies inside the circle of radius metres around center.
func Within(p, center geoquest.Coordinate, radius float64) bool {
	return Distance(p, center) <= radius
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
