package heatmap

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/color"
	"io"
	"math"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/font"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/vgimg"
	"gonum.org/v1/plot/vg/vgsvg"

	"github.com/KingstonPolyAC/PolyField/internal/calibration"
)

// Format is an output encoding for a rendered scene.
type Format string

const (
	FormatPNG  Format = "png"
	FormatSVG  Format = "svg"
	FormatHTML Format = "html"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatPNG, FormatSVG, FormatHTML:
		return f, nil
	}
	return "", fmt.Errorf("unknown heatmap format %q: expected png, svg or html", s)
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatSVG:
		return "image/svg+xml"
	case FormatHTML:
		return "text/html; charset=utf-8"
	}
	return "image/png"
}

// Pixels map one to one onto points at 72 dpi.
const dpi = 72

var background = color.NRGBA{R: 249, G: 250, B: 251, A: 255}

// WritePNG rasterises s.
func WritePNG(w io.Writer, s Scene) error {
	c := vgimg.NewWith(
		vgimg.UseWH(vg.Points(s.Layout.Canvas.Width), vg.Points(s.Layout.Canvas.Height)),
		vgimg.UseDPI(dpi),
		vgimg.UseBackgroundColor(background),
	)
	paint(c, s)
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(w); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}

// WriteSVG writes s as scalable vector graphics.
func WriteSVG(w io.Writer, s Scene) error {
	c := vgsvg.New(vg.Points(s.Layout.Canvas.Width), vg.Points(s.Layout.Canvas.Height))
	c.SetColor(background)
	c.Fill(rect(s, 0, 0, s.Layout.Canvas.Width, s.Layout.Canvas.Height))
	paint(c, s)
	if _, err := c.WriteTo(w); err != nil {
		return fmt.Errorf("failed to encode svg: %w", err)
	}
	return nil
}

// DataURL renders s as a base64 PNG suitable for an <img> src.
func DataURL(s Scene) (string, error) {
	var buf bytes.Buffer
	if err := WritePNG(&buf, s); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// pt converts top-left pixel coordinates into the canvas' bottom-left space.
func pt(s Scene, x, y float64) vg.Point {
	return vg.Point{X: vg.Points(x), Y: vg.Points(s.Layout.Canvas.Height - y)}
}

func rect(s Scene, x, y, w, h float64) vg.Path {
	return vg.Rectangle{Min: pt(s, x, y+h), Max: pt(s, x+w, y)}.Path()
}

func circlePath(s Scene, cx, cy, r float64) vg.Path {
	var p vg.Path
	p.Move(pt(s, cx+r, cy))
	p.Arc(pt(s, cx, cy), vg.Points(r), 0, 2*math.Pi)
	p.Close()
	return p
}

func paint(c vg.Canvas, s Scene) {
	small := font.DefaultCache.Lookup(plot.DefaultFont, vg.Points(10))
	title := font.DefaultCache.Lookup(plot.DefaultFont, vg.Points(13))

	c.SetLineDash([]vg.Length{vg.Points(4), vg.Points(4)}, 0)
	c.SetLineWidth(vg.Points(1))
	for _, r := range s.Rings {
		c.SetColor(RingColor)
		c.Stroke(circlePath(s, s.CentreX, s.CentreY, r.RadiusPx))
		c.SetColor(LabelColor)
		centred(c, small, pt(s, s.CentreX, s.CentreY-r.RadiusPx-3), r.Label)
	}
	c.SetLineDash(nil, 0)

	for _, cell := range s.Cells {
		c.SetColor(cell.Fill)
		c.Fill(rect(s, cell.X, cell.Y, cell.W, cell.H))
		if cell.Label {
			c.SetColor(color.White)
			label := strconv.Itoa(cell.Count)
			centred(c, small, pt(s, cell.X+cell.W/2, cell.Y+cell.H/2+4), label)
		}
	}

	c.SetColor(CircleColor)
	c.SetLineWidth(vg.Points(2))
	c.Stroke(circlePath(s, s.CentreX, s.CentreY, math.Max(s.CircleR, 1)))
	c.Fill(circlePath(s, s.CentreX, s.CentreY, 3))

	c.SetColor(LabelColor)
	c.FillString(title, pt(s, s.Layout.Canvas.Margin, s.Layout.Canvas.Margin/2+5), s.Title)
	if s.TotalThrows == 0 {
		centred(c, small, pt(s, s.Layout.Canvas.Width/2, s.Layout.Canvas.Height-s.Layout.Canvas.Margin/2), "No throws recorded yet")
	}
}

func centred(c vg.Canvas, f font.Face, at vg.Point, text string) {
	at.X -= f.Width(text) / 2
	c.FillString(f, at, text)
}

// Render writes d in format f.
func Render(w io.Writer, f Format, d Data, circle calibration.Circle, c Canvas) error {
	switch f {
	case FormatHTML:
		return WriteHTML(w, d, circle, c)
	case FormatSVG:
		return WriteSVG(w, BuildScene(d, circle, c))
	case FormatPNG:
		return WritePNG(w, BuildScene(d, circle, c))
	}
	return fmt.Errorf("unknown heatmap format %q", f)
}
