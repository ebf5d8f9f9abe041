// Package geo wraps the handful of great-circle helpers the tracker needs.
//
// Points are orb.Point values, so ordering is (lon, lat) throughout.
// Distances are metres on a sphere of radius orb.EarthRadius.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// EarthRadiusM is the sphere radius used by every distance in this package.
const EarthRadiusM = orb.EarthRadius

// Haversine returns the great-circle distance in metres between a and b.
func Haversine(a, b orb.Point) float64 {
	d := orbgeo.DistanceHaversine(a, b)
	if math.IsNaN(d) || d < 0 {
		return 0
	}
	return d
}

// Bearing returns the initial great-circle bearing from a to b in [0, 360).
func Bearing(a, b orb.Point) float64 {
	return NormalizeDeg(orbgeo.Bearing(a, b))
}

// Destination returns the point reached by travelling distM metres from p on
// the given initial bearing.
func Destination(p orb.Point, bearingDeg, distM float64) orb.Point {
	return orbgeo.PointAtBearingAndDistance(p, bearingDeg, distM)
}

// NormalizeDeg folds any finite angle into [0, 360).
func NormalizeDeg(deg float64) float64 {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return 0
	}
	v := math.Mod(deg, 360)
	if v < 0 {
		v += 360
	}
	// math.Mod(-1e-15, 360)+360 rounds to 360.
	if v >= 360 {
		v = 0
	}
	return v
}

// LineLength sums the haversine lengths of consecutive vertices.
func LineLength(ls orb.LineString) float64 {
	total := 0.0
	for i := 1; i < len(ls); i++ {
		total += Haversine(ls[i-1], ls[i])
	}
	return total
}
