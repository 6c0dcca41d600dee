package heatmap

import (
	"fmt"
	"image/color"
	"math"

	"github.com/KingstonPolyAC/PolyField/internal/calibration"
)

const (
	// MinLabelCellPx is the smallest cell that gets a count label.
	MinLabelCellPx = 20.0
	// MinRingPx is the smallest ring radius worth drawing.
	MinRingPx = 8.0

	minAlpha = 0.3
	maxAlpha = 0.9
)

var (
	LowColor  = color.NRGBA{R: 59, G: 130, B: 246, A: 255}
	HighColor = color.NRGBA{R: 220, G: 38, B: 38, A: 255}

	CircleColor = color.NRGBA{R: 31, G: 41, B: 55, A: 255}
	RingColor   = color.NRGBA{R: 156, G: 163, B: 175, A: 255}
	LabelColor  = color.NRGBA{R: 55, G: 65, B: 81, A: 255}
)

// Cell is a non-empty grid cell in canvas pixels; X, Y is its top-left corner.
type Cell struct {
	Column    int
	Row       int
	Count     int
	Intensity float64
	X, Y      float64
	W, H      float64
	Fill      color.NRGBA
	Label     bool
}

// Ring is a distance guide measured from the circle edge.
type Ring struct {
	DistanceM float64
	RadiusPx  float64
	Label     string
}

// Scene is everything needed to draw one heat map, independent of the
// output format.
type Scene struct {
	Layout      Layout
	Circle      calibration.Circle
	CentreX     float64
	CentreY     float64
	CircleR     float64
	Cells       []Cell
	Rings       []Ring
	Title       string
	TotalThrows int
	MaxCount    int
}

// RingDistances returns the guide distances for a circle type, in metres
// beyond the circle edge.
func RingDistances(t calibration.CircleType) []float64 {
	if t == calibration.Shot {
		return []float64{6, 8, 10, 12, 14}
	}
	return []float64{10, 20, 30, 40, 50, 60}
}

// Shade interpolates between LowColor and HighColor. Alpha rises with
// intensity so sparse cells stay subdued.
func Shade(intensity float64) color.NRGBA {
	t := math.Min(math.Max(intensity, 0), 1)
	lerp := func(a, b uint8) uint8 {
		return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
	}
	return color.NRGBA{
		R: lerp(LowColor.R, HighColor.R),
		G: lerp(LowColor.G, HighColor.G),
		B: lerp(LowColor.B, HighColor.B),
		A: uint8(math.Round(255 * (minAlpha + (maxAlpha-minAlpha)*t))),
	}
}

// BuildScene lays out d around circle. The circle, its centre and the
// distance rings are present whether or not there is any data.
func BuildScene(d Data, circle calibration.Circle, c Canvas) Scene {
	l := NewLayout(d, circle.Radius, c)
	cx, cy := l.ToPixel(0, 0)
	s := Scene{
		Layout:      l,
		Circle:      circle,
		CentreX:     cx,
		CentreY:     cy,
		CircleR:     l.Length(circle.Radius),
		TotalThrows: d.TotalThrows,
		MaxCount:    d.MaxCount(),
		Title:       fmt.Sprintf("%s landing heat map: %d throws, %gm grid", circle.Type.DisplayName(), d.TotalThrows, d.GridSize),
	}

	if s.MaxCount > 0 {
		for gy, row := range d.Heatmap {
			for gx, n := range row {
				if n == 0 {
					continue
				}
				cb := d.CellBounds(gx, gy)
				x, y := l.ToPixel(cb.MinX, cb.MaxY)
				size := l.Length(d.GridSize)
				in := float64(n) / float64(s.MaxCount)
				s.Cells = append(s.Cells, Cell{
					Column: gx, Row: gy, Count: n, Intensity: in,
					X: x, Y: y, W: size, H: size,
					Fill:  Shade(in),
					Label: size >= MinLabelCellPx,
				})
			}
		}
	}

	limit := math.Max(c.Width, c.Height)
	for _, dist := range RingDistances(circle.Type) {
		r := l.Length(circle.Radius + dist)
		if r < MinRingPx || r > limit {
			continue
		}
		s.Rings = append(s.Rings, Ring{DistanceM: dist, RadiusPx: r, Label: fmt.Sprintf("%gm", dist)})
	}
	return s
}
