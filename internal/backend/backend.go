// Package backend defines the device backend the calibration flow, the
// heat map and the HTTP API talk to. device.Service implements it locally and
// remote.Client implements it over HTTP.
package backend

import (
	"context"
	"errors"

	"github.com/KingstonPolyAC/PolyField/internal/calibration"
	"github.com/KingstonPolyAC/PolyField/internal/heatmap"
	"github.com/KingstonPolyAC/PolyField/internal/throws"
)

var (
	// ErrNoCoordinates is the backend's way of saying there is nothing to
	// aggregate. Consumers treat it as the empty heat map, not a failure.
	ErrNoCoordinates = errors.New("no coordinates found")
	ErrNotConnected  = errors.New("device not connected")
	ErrNotCalibrated = errors.New("device is not calibrated")
)

// ThrowRequest identifies who threw and when.
type ThrowRequest struct {
	AthleteID string `json:"athleteId"`
	Round     string `json:"round"`
}

// Throw is the result of one throw measurement. Mark is the display value,
// for example "12.34 m".
type Throw struct {
	Mark       string            `json:"mark"`
	Coordinate throws.Coordinate `json:"coordinate"`
}

type Backend interface {
	calibration.Remote

	MeasureThrow(ctx context.Context, deviceID string, req ThrowRequest) (Throw, error)
	MeasureWind(ctx context.Context, deviceID string) (string, error)
	ExportHeatmapData(ctx context.Context, circleType calibration.CircleType, gridSize float64) (heatmap.Data, error)
	Throws(ctx context.Context, circleType calibration.CircleType) ([]throws.Coordinate, error)
}

// HeatmapOrEmpty fetches heat map data and maps ErrNoCoordinates onto the
// empty aggregation, so a renderer always has something to draw.
func HeatmapOrEmpty(ctx context.Context, b Backend, circleType calibration.CircleType, gridSize float64) (heatmap.Data, error) {
	d, err := b.ExportHeatmapData(ctx, circleType, gridSize)
	if errors.Is(err, ErrNoCoordinates) {
		return heatmap.Aggregate(circleType, nil, gridSize)
	}
	return d, err
}
