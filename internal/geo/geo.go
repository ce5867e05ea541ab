// Package geo provides spherical helpers and the local position source
// abstraction.
package geo

import (
	"math"

	"roadassist/internal/model"
)

const earthRadiusM = 6371000.0

// DistanceMeters returns the great-circle distance between two points.
func DistanceMeters(a, b model.GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(h))
}

// BearingDegrees returns the initial bearing from a to b in [0, 360).
func BearingDegrees(a, b model.GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// ShortestAngularDelta returns the signed smallest rotation from one
// heading to another, in (-180, 180].
func ShortestAngularDelta(from, to float64) float64 {
	d := math.Mod(to-from, 360)
	if d > 180 {
		d -= 360
	}
	if d <= -180 {
		d += 360
	}
	return d
}

// NormalizeHeading wraps a heading into [0, 360).
func NormalizeHeading(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	return h
}

// Lerp linearly interpolates between two points. t is clamped to [0, 1].
func Lerp(a, b model.GeoPoint, t float64) model.GeoPoint {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return model.GeoPoint{
		Lat: a.Lat + (b.Lat-a.Lat)*t,
		Lng: a.Lng + (b.Lng-a.Lng)*t,
	}
}

// StepToward moves from current toward target by at most stepMeters and
// reports whether the target was reached.
func StepToward(current, target model.GeoPoint, stepMeters float64) (model.GeoPoint, bool) {
	dist := DistanceMeters(current, target)
	if dist <= stepMeters {
		return target, true
	}
	return Lerp(current, target, stepMeters/dist), false
}
