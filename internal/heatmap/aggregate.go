// Package heatmap bins landing coordinates into a grid and lays the result
// out on a fixed-size canvas around the throwing circle.
package heatmap

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/KingstonPolyAC/PolyField/internal/calibration"
	"github.com/KingstonPolyAC/PolyField/internal/throws"
)

// GridSizes are the cell sizes, in metres, an operator can choose from.
var GridSizes = []float64{0.5, 1.0, 2.0, 5.0}

const DefaultGridSize = 1.0

var ErrInvalidGridSize = errors.New("invalid grid size")

// ValidGridSize reports whether gs is one of GridSizes.
func ValidGridSize(gs float64) bool {
	return slices.Contains(GridSizes, gs)
}

// Bounds is an axis-aligned extent in metres.
type Bounds struct {
	MinX float64 `json:"minX"`
	MaxX float64 `json:"maxX"`
	MinY float64 `json:"minY"`
	MaxY float64 `json:"maxY"`
}

func (b Bounds) Width() float64  { return b.MaxX - b.MinX }
func (b Bounds) Height() float64 { return b.MaxY - b.MinY }

func (b Bounds) Contains(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// Data is one aggregation of a circle type's throws. Heatmap is indexed
// [row][column], row 0 holding the lowest y.
type Data struct {
	CircleType  calibration.CircleType `json:"circleType"`
	GridSize    float64                `json:"gridSize"`
	Bounds      Bounds                 `json:"bounds"`
	GridWidth   int                    `json:"gridWidth"`
	GridHeight  int                    `json:"gridHeight"`
	Heatmap     [][]int                `json:"heatmap"`
	TotalThrows int                    `json:"totalThrows"`
	Coordinates []throws.Coordinate    `json:"coordinates"`
}

// Empty reports whether the aggregation holds no throws.
func (d Data) Empty() bool { return d.TotalThrows == 0 }

// MaxCount returns the largest cell count.
func (d Data) MaxCount() int {
	m := 0
	for _, row := range d.Heatmap {
		for _, n := range row {
			m = max(m, n)
		}
	}
	return m
}

// CellBounds is the extent covered by the cell at column gx, row gy.
func (d Data) CellBounds(gx, gy int) Bounds {
	x0 := d.Bounds.MinX + float64(gx)*d.GridSize
	y0 := d.Bounds.MinY + float64(gy)*d.GridSize
	return Bounds{MinX: x0, MaxX: x0 + d.GridSize, MinY: y0, MaxY: y0 + d.GridSize}
}

// GridExtent is the region the grid covers. The last column and row reach
// up to one cell past the data bounds.
func (d Data) GridExtent() Bounds {
	return Bounds{
		MinX: d.Bounds.MinX,
		MaxX: d.Bounds.MinX + float64(d.GridWidth)*d.GridSize,
		MinY: d.Bounds.MinY,
		MaxY: d.Bounds.MinY + float64(d.GridHeight)*d.GridSize,
	}
}

// Aggregate bins coords into square cells of gridSize metres. The caller
// filters coords to circleType. No coordinates is the normal empty state:
// zero bounds and an empty grid.
//
// Cells are half-open, [min, min+gridSize), so a grid dimension is
// floor(span/gridSize)+1 and a point on the maximum edge still has a cell.
func Aggregate(circleType calibration.CircleType, coords []throws.Coordinate, gridSize float64) (Data, error) {
	if !ValidGridSize(gridSize) {
		return Data{}, fmt.Errorf("%w: %v (expected one of %v)", ErrInvalidGridSize, gridSize, GridSizes)
	}
	d := Data{
		CircleType:  circleType,
		GridSize:    gridSize,
		Heatmap:     [][]int{},
		Coordinates: append([]throws.Coordinate{}, coords...),
	}
	if len(coords) == 0 {
		return d, nil
	}
	for i, c := range coords {
		if !finite(c.X) || !finite(c.Y) {
			return Data{}, fmt.Errorf("coordinate %d is not finite: (%v, %v)", i, c.X, c.Y)
		}
	}

	b := Bounds{MinX: coords[0].X, MaxX: coords[0].X, MinY: coords[0].Y, MaxY: coords[0].Y}
	for _, c := range coords[1:] {
		b.MinX = math.Min(b.MinX, c.X)
		b.MaxX = math.Max(b.MaxX, c.X)
		b.MinY = math.Min(b.MinY, c.Y)
		b.MaxY = math.Max(b.MaxY, c.Y)
	}
	d.Bounds = b
	d.GridWidth = int(math.Floor(b.Width()/gridSize)) + 1
	d.GridHeight = int(math.Floor(b.Height()/gridSize)) + 1

	d.Heatmap = make([][]int, d.GridHeight)
	for i := range d.Heatmap {
		d.Heatmap[i] = make([]int, d.GridWidth)
	}
	for _, c := range coords {
		gx := cellIndex(c.X-b.MinX, gridSize, d.GridWidth)
		gy := cellIndex(c.Y-b.MinY, gridSize, d.GridHeight)
		d.Heatmap[gy][gx]++
	}
	d.TotalThrows = len(coords)
	return d, nil
}

func cellIndex(offset, gridSize float64, n int) int {
	i := int(math.Floor(offset / gridSize))
	return min(max(i, 0), n-1)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
