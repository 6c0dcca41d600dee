package heatmap

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/KingstonPolyAC/PolyField/internal/calibration"
)

func hex(c interface{ RGBA() (r, g, b, a uint32) }) string {
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8)
}

// axisLabels names each cell by the centre of its span in metres.
func axisLabels(origin, gridSize float64, n int) []string {
	labels := make([]string, n)
	for i := range labels {
		labels[i] = fmt.Sprintf("%.1f", origin+(float64(i)+0.5)*gridSize)
	}
	return labels
}

// WriteHTML writes an interactive page for d. Unlike the PNG and SVG
// renderers it plots cells only; the circle is named in the subtitle.
func WriteHTML(w io.Writer, d Data, circle calibration.Circle, c Canvas) error {
	xs := axisLabels(d.Bounds.MinX, d.GridSize, d.GridWidth)
	ys := axisLabels(d.Bounds.MinY, d.GridSize, d.GridHeight)

	values := make([]opts.HeatMapData, 0, d.GridWidth*d.GridHeight)
	for gy, row := range d.Heatmap {
		for gx, n := range row {
			if n == 0 {
				continue
			}
			values = append(values, opts.HeatMapData{
				Name:  fmt.Sprintf("%s, %s", xs[gx], ys[gy]),
				Value: [3]interface{}{gx, gy, n},
			})
		}
	}

	maxCount := max(d.MaxCount(), 1)
	subtitle := fmt.Sprintf("%d throws, %gm grid, circle radius %.4fm", d.TotalThrows, d.GridSize, circle.Radius)
	if d.Empty() {
		subtitle = "No throws recorded yet"
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle:       "PolyField heat map",
			Width:           fmt.Sprintf("%.0fpx", c.Width),
			Height:          fmt.Sprintf("%.0fpx", c.Height),
			BackgroundColor: hex(background),
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s landing heat map", circle.Type.DisplayName()),
			Subtitle: subtitle,
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: xs, Name: "X (m)", SplitArea: &opts.SplitArea{Show: opts.Bool(true)}}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: ys, Name: "Y (m)", SplitArea: &opts.SplitArea{Show: opts.Bool(true)}}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxCount),
			InRange:    &opts.VisualMapInRange{Color: []string{hex(LowColor), hex(HighColor)}},
		}),
	)
	hm.SetXAxis(xs).AddSeries("throws", values)

	if err := hm.Render(w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}
