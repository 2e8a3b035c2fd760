package geo

import (
	"fmt"
	"math"
)

const (
	earthRadiusM = 6371000.0

	// DefaultAverageSpeedKmh is the fallback courier speed used for ETA
	// estimates when no live speed is available.
	DefaultAverageSpeedKmh = 25.0
)

// Point is the canonical coordinate representation used everywhere inside
// the module. External formats (GeoJSON [lon,lat] pairs, device location
// payloads) are converted to and from Point at the boundary, never inline.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// FromLonLat builds a Point from a GeoJSON-ordered [longitude, latitude] pair.
func FromLonLat(pair [2]float64) Point {
	return Point{Latitude: pair[1], Longitude: pair[0]}
}

// LonLat returns the point as a GeoJSON-ordered [longitude, latitude] pair.
func (p Point) LonLat() [2]float64 {
	return [2]float64{p.Longitude, p.Latitude}
}

// IsZero reports whether the point is the zero value, used as the sentinel
// for missing coordinates.
func (p Point) IsZero() bool {
	return p.Latitude == 0 && p.Longitude == 0
}

// DistanceMeters calculates the haversine great-circle distance in meters
// between two coordinates given in decimal degrees.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180.0
	dLon := (lon2 - lon1) * math.Pi / 180.0

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180.0)*math.Cos(lat2*math.Pi/180.0)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// DistanceBetween is the Point form of DistanceMeters.
func DistanceBetween(a, b Point) float64 {
	return DistanceMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// EstimateETAMinutes returns the estimated travel time in minutes for a
// distance in meters at the given average speed in km/h.
func EstimateETAMinutes(distanceMeters, averageSpeedKmh float64) int {
	if averageSpeedKmh <= 0 {
		averageSpeedKmh = DefaultAverageSpeedKmh
	}
	return int(math.Round(distanceMeters / 1000.0 / averageSpeedKmh * 60.0))
}

// FormatDistance renders a distance in meters as "Nm" below one kilometer
// and "N.Nkm" above.
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%dm", int(math.Round(meters)))
	}
	return fmt.Sprintf("%.1fkm", meters/1000.0)
}

// FormatDuration renders a duration in seconds as "Ns", "Nmin" or "Hh Mmin".
func FormatDuration(seconds int) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	if seconds < 3600 {
		return fmt.Sprintf("%dmin", seconds/60)
	}
	return fmt.Sprintf("%dh %dmin", seconds/3600, (seconds%3600)/60)
}
