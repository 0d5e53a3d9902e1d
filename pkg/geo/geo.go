// Package geo provides the great-circle math shared by the correction engine
// and the race-task evaluator.
package geo

import "math"

// EarthRadius in meters. This constant is part of the wire-visible distance
// semantics and must not change.
const EarthRadius = 6371000

// Distance returns the great-circle distance in meters between two
// coordinates, haversine formulation.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	const rad = math.Pi / 180
	phi1 := lat1 * rad
	phi2 := lat2 * rad
	dphi := (lat2 - lat1) * rad
	dlambda := (lon2 - lon1) * rad

	a := math.Sin(dphi/2)*math.Sin(dphi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dlambda/2)*math.Sin(dlambda/2)
	return EarthRadius * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
