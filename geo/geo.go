package geo

// Geodesic helpers for the direction matcher and the arrival
// estimator. All distances are meters, all bearings degrees in
// [0, 360).

import (
	"errors"
	"math"

	"daladala.dev/tracker/model"
)

const (
	earthRadiusMeters = 6371000.0

	// Segments shorter than this carry no usable heading
	// information; GPS jitter on a stationary bus produces
	// sub-meter displacements in arbitrary directions.
	MinMovementThresholdMeters = 1.0
)

var ErrBadCoordinate = errors.New("coordinate is not finite")

// Distance returns the Haversine distance between a and b in meters.
func Distance(a, b model.Coordinate) (float64, error) {
	if !a.Finite() || !b.Finite() {
		return 0, ErrBadCoordinate
	}

	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)

	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h)), nil
}

// Bearing returns the initial forward azimuth from a to b, normalized
// to [0, 360). The second return is false when either point is not
// finite.
func Bearing(a, b model.Coordinate) (float64, bool) {
	if !a.Finite() || !b.Finite() {
		return 0, false
	}

	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)

	deg := math.Atan2(y, x) * 180 / math.Pi
	return normalize(deg), true
}

// AverageBearing computes the circular mean heading over consecutive
// sample pairs, skipping pairs closer than the movement threshold.
// Returns false when no qualifying pair exists.
//
// The arithmetic mean of bearings is wrong across the 0/360
// discontinuity (the mean of 359 and 1 is not 180), so each bearing
// is summed as a unit vector and the mean recovered with atan2.
func AverageBearing(history []model.Sample) (float64, bool) {
	var sumSin, sumCos float64
	segments := 0

	for i := 0; i+1 < len(history); i++ {
		d, err := Distance(history[i].Coordinate, history[i+1].Coordinate)
		if err != nil || d < MinMovementThresholdMeters {
			continue
		}
		b, ok := Bearing(history[i].Coordinate, history[i+1].Coordinate)
		if !ok {
			continue
		}
		rad := b * math.Pi / 180
		sumSin += math.Sin(rad)
		sumCos += math.Cos(rad)
		segments++
	}

	if segments == 0 {
		return 0, false
	}

	deg := math.Atan2(sumSin, sumCos) * 180 / math.Pi
	return normalize(deg), true
}

// AngularDistance returns the shortest circular distance between two
// bearings, in [0, 180].
func AngularDistance(a, b float64) float64 {
	d := math.Abs(a - b)
	if d > 180 {
		d = 360 - d
	}
	return d
}

func normalize(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}
