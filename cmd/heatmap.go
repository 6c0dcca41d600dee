package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/KingstonPolyAC/PolyField/internal/backend"
	"github.com/KingstonPolyAC/PolyField/internal/calibration"
	"github.com/KingstonPolyAC/PolyField/internal/heatmap"
	"github.com/KingstonPolyAC/PolyField/internal/log"
)

type heatmapOptions struct {
	circle string
	radius float64
	grid   float64
	format string
	out    string
}

func newHeatmapCmd() *cobra.Command {
	o := heatmapOptions{circle: string(calibration.Shot), grid: heatmap.DefaultGridSize, format: string(heatmap.FormatPNG)}
	cmd := &cobra.Command{
		Use:   "heatmap",
		Short: "render the landing heat map of one circle type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return renderHeatmap(cmd.Context(), o, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&o.circle, "circle", o.circle, "circle type (SHOT, DISCUS, HAMMER, JAVELIN_ARC, CUSTOM)")
	cmd.Flags().Float64Var(&o.radius, "radius", o.radius, "target radius in metres, required for CUSTOM")
	cmd.Flags().Float64Var(&o.grid, "grid", o.grid, "cell size in metres (0.5, 1, 2 or 5)")
	cmd.Flags().StringVar(&o.format, "format", o.format, "output format (png, svg or html)")
	cmd.Flags().StringVarP(&o.out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func renderHeatmap(ctx context.Context, o heatmapOptions, stdout io.Writer) error {
	t, err := calibration.ParseCircleType(o.circle)
	if err != nil {
		return err
	}
	circle, err := calibration.NewCircle(t, o.radius)
	if err != nil {
		return err
	}
	f, err := heatmap.ParseFormat(o.format)
	if err != nil {
		return err
	}

	b, _, closeBackend, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	d, err := backend.HeatmapOrEmpty(ctx, b, t, o.grid)
	if err != nil {
		return err
	}

	w := stdout
	if o.out != "" {
		file, err := os.Create(o.out)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", o.out, err)
		}
		defer file.Close()
		w = file
	}
	if err := heatmap.Render(w, f, d, circle, canvasOf(cfg)); err != nil {
		return err
	}
	log.Logger.Info("heatmap rendered",
		log.String("circle", string(t)), log.Float64("gridSize", o.grid),
		log.Int("throws", d.TotalThrows), log.String("format", string(f)))
	return nil
}
