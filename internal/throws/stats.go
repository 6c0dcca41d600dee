package throws

import (
	"math"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat"
)

// Statistics summarises a set of throws.
type Statistics struct {
	TotalThrows     int     `json:"totalThrows"`
	AverageX        float64 `json:"averageX"`
	AverageY        float64 `json:"averageY"`
	MaxDistance     float64 `json:"maxDistance"`
	MinDistance     float64 `json:"minDistance"`
	AverageDistance float64 `json:"averageDistance"`
	// SpreadRadius is the RMS distance of the landing points from their mean.
	SpreadRadius float64 `json:"spreadRadius"`
}

// Compute returns false for an empty input.
func Compute(coords []Coordinate) (Statistics, bool) {
	if len(coords) == 0 {
		return Statistics{}, false
	}
	xs := lo.Map(coords, func(c Coordinate, _ int) float64 { return c.X })
	ys := lo.Map(coords, func(c Coordinate, _ int) float64 { return c.Y })
	ds := lo.Map(coords, func(c Coordinate, _ int) float64 { return c.Distance })

	s := Statistics{
		TotalThrows:     len(coords),
		AverageX:        stat.Mean(xs, nil),
		AverageY:        stat.Mean(ys, nil),
		MaxDistance:     lo.Max(ds),
		MinDistance:     lo.Min(ds),
		AverageDistance: stat.Mean(ds, nil),
	}
	sq := lo.Map(coords, func(c Coordinate, _ int) float64 {
		dx, dy := c.X-s.AverageX, c.Y-s.AverageY
		return dx*dx + dy*dy
	})
	s.SpreadRadius = math.Sqrt(stat.Mean(sq, nil))
	return s, true
}
