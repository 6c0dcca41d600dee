// Package throws records where implements landed and summarises them.
package throws

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/KingstonPolyAC/PolyField/internal/calibration"
)

// Coordinate is a measured landing point relative to the circle centre. It is
// never modified once recorded.
type Coordinate struct {
	X          float64                `json:"x"`
	Y          float64                `json:"y"`
	Distance   float64                `json:"distance"`
	CircleType calibration.CircleType `json:"circleType"`
	Timestamp  time.Time              `json:"timestamp"`
	AthleteID  string                 `json:"athleteId"`
	Round      string                 `json:"round"`
	EDMReading string                 `json:"edmReading"`
	SessionID  string                 `json:"sessionId,omitempty"`
}

// Repository stores coordinates and finished sessions.
type Repository interface {
	AddThrow(ctx context.Context, c Coordinate) error
	// Throws returns coordinates in recording order. An empty circle type
	// returns every coordinate.
	Throws(ctx context.Context, circleType calibration.CircleType) ([]Coordinate, error)
	ClearThrows(ctx context.Context) (int, error)
	SaveSession(ctx context.Context, s Session) error
}

// ForCircle filters coords to a single circle type.
func ForCircle(coords []Coordinate, t calibration.CircleType) []Coordinate {
	if t == "" {
		return coords
	}
	return lo.Filter(coords, func(c Coordinate, _ int) bool { return c.CircleType == t })
}
