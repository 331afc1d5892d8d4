// Package geofence decides whether a reported position lies inside an
// office's circular boundary.
package geofence

import "math"

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000.0

type Point struct {
	Lat float64
	Lon float64
}

// Fence is a circle around an office location.
type Fence struct {
	Center       Point
	RadiusMeters float64
}

// Distance returns the great-circle distance in meters between a and b.
func Distance(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// rounding can push h just past 1 for antipodal points
	h = math.Min(1, math.Max(0, h))

	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// Validate reports whether pos is within the fence. A nil fence means no
// geofence is configured and always passes.
func Validate(pos Point, fence *Fence) bool {
	if fence == nil {
		return true
	}
	return Distance(pos, fence.Center) <= fence.RadiusMeters
}

// Check is Validate that also returns the measured distance, 0 when no fence
// is configured.
func Check(pos Point, fence *Fence) (float64, bool) {
	if fence == nil {
		return 0, true
	}
	d := Distance(pos, fence.Center)
	return d, d <= fence.RadiusMeters
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
