package heatmap

import "math"

const (
	// DefaultScale is used when there is no data to fit, in pixels per metre.
	DefaultScale = 20.0
	// MinPadding is the least padding, in metres, added to each side.
	MinPadding = 2.0
	// PaddingFraction of the span is added to each side when larger than MinPadding.
	PaddingFraction = 0.10
)

// Canvas is the drawing surface in pixels.
type Canvas struct {
	Width  float64
	Height float64
	Margin float64
}

func DefaultCanvas() Canvas {
	return Canvas{Width: 800, Height: 600, Margin: 40}
}

func (c Canvas) available() (w, h float64) {
	return math.Max(c.Width-2*c.Margin, 1), math.Max(c.Height-2*c.Margin, 1)
}

// Layout maps metres to pixels with a single uniform scale. Pixel y grows
// downwards.
type Layout struct {
	Canvas  Canvas
	Bounds  Bounds  // region drawn, after expansion and padding
	Scale   float64 // pixels per metre
	OffsetX float64
	OffsetY float64
}

// ExpandBounds grows b to include the origin and the circle edge on both axes,
// then pads each axis by the larger of 10% of its span and MinPadding.
func ExpandBounds(b Bounds, radius float64) Bounds {
	r := math.Abs(radius)
	e := Bounds{
		MinX: math.Min(b.MinX, -r),
		MaxX: math.Max(b.MaxX, r),
		MinY: math.Min(b.MinY, -r),
		MaxY: math.Max(b.MaxY, r),
	}
	px := math.Max(e.Width()*PaddingFraction, MinPadding)
	py := math.Max(e.Height()*PaddingFraction, MinPadding)
	e.MinX -= px
	e.MaxX += px
	e.MinY -= py
	e.MaxY += py
	return e
}

// NewLayout fits the whole grid and the circle into the canvas. With no
// throws the scale is DefaultScale and the origin sits at the canvas centre.
func NewLayout(d Data, radius float64, c Canvas) Layout {
	availW, availH := c.available()
	if d.Empty() {
		halfW := availW / 2 / DefaultScale
		halfH := availH / 2 / DefaultScale
		return Layout{
			Canvas:  c,
			Bounds:  Bounds{MinX: -halfW, MaxX: halfW, MinY: -halfH, MaxY: halfH},
			Scale:   DefaultScale,
			OffsetX: c.Margin,
			OffsetY: c.Margin,
		}
	}

	b := ExpandBounds(d.GridExtent(), radius)
	s := math.Min(availW/b.Width(), availH/b.Height())
	return Layout{
		Canvas:  c,
		Bounds:  b,
		Scale:   s,
		OffsetX: c.Margin + (availW-b.Width()*s)/2,
		OffsetY: c.Margin + (availH-b.Height()*s)/2,
	}
}

// ToPixel converts a position in metres to canvas pixels.
func (l Layout) ToPixel(x, y float64) (px, py float64) {
	return l.OffsetX + (x-l.Bounds.MinX)*l.Scale, l.OffsetY + (l.Bounds.MaxY-y)*l.Scale
}

// Length converts metres to pixels.
func (l Layout) Length(m float64) float64 {
	return m * l.Scale
}
