package device

import (
	"math"

	"github.com/KingstonPolyAC/PolyField/internal/calibration"
)

func radians(deg float64) float64 { return deg * math.Pi / 180.0 }

// horizontal returns the horizontal distance in metres and the bearing in
// radians of a reading.
func horizontal(r Reading) (h, bearing float64) {
	return r.SlopeDistanceMm / 1000.0 * math.Sin(radians(r.VAzDecimal)), radians(r.HARDecimal)
}

// StationFromCentre places the instrument relative to the circle centre
// given a reading taken at the centre.
func StationFromCentre(r Reading) calibration.Point {
	h, har := horizontal(r)
	return calibration.Point{X: -h * math.Cos(har), Y: -h * math.Sin(har)}
}

// Locate returns the position of the sighted point relative to the circle
// centre.
func Locate(station calibration.Point, r Reading) calibration.Point {
	h, har := horizontal(r)
	return calibration.Point{X: station.X + h*math.Cos(har), Y: station.Y + h*math.Sin(har)}
}

// FromCentre is the distance of p from the circle centre.
func FromCentre(p calibration.Point) float64 {
	return math.Hypot(p.X, p.Y)
}

// ReadingTo is the inverse of Locate for a level sight: the reading an
// instrument at station would report for target, at vertical angle vaz.
func ReadingTo(station, target calibration.Point, vaz float64) Reading {
	dx, dy := target.X-station.X, target.Y-station.Y
	har := math.Atan2(dy, dx) * 180.0 / math.Pi
	if har < 0 {
		har += 360.0
	}
	return Reading{
		SlopeDistanceMm: math.Hypot(dx, dy) / math.Sin(radians(vaz)) * 1000.0,
		VAzDecimal:      vaz,
		HARDecimal:      har,
	}
}
