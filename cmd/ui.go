package cmd

import (
	"io/fs"

	"github.com/spf13/cobra"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/windows"

	"github.com/KingstonPolyAC/PolyField/internal/events"
	"github.com/KingstonPolyAC/PolyField/internal/ui"
)

func newUICmd(assets fs.FS) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ui",
		Short: "run the desktop application (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUI(assets)
		},
	}
	cmd.Flags().StringVar(&cfg.EventServerAddress, "event-server", cfg.EventServerAddress,
		"host:port of the competition event server")
	cmd.Flags().StringVar(&cfg.CacheFile, "cache-file", cfg.CacheFile, "file holding results the event server has not taken yet")
	cmd.Flags().DurationVar(&cfg.CacheRetry, "cache-retry", cfg.CacheRetry, "interval between resend attempts for cached results")
	return cmd
}

func runUI(assets fs.FS) error {
	b, local, closeBackend, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	ev := events.NewClient(cfg.EventServerAddress, events.LoadCache(cfg.CacheFile))
	var opts []ui.Option
	if local != nil {
		opts = append(opts, ui.WithLocal(local))
	}
	app := ui.NewApp(cfg, b, ev, opts...)

	return wails.Run(&options.App{
		Title:  "PolyField",
		Width:  1280,
		Height: 800,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		WindowStartState: options.Maximised,
		BackgroundColour: &options.RGBA{R: 243, G: 244, B: 246, A: 1},
		OnStartup:        app.Startup,
		OnShutdown:       app.Shutdown,
		Bind: []interface{}{
			app,
		},
		Windows: &windows.Options{
			WebviewIsTransparent: false,
			WindowIsTranslucent:  false,
			DisableWindowIcon:    false,
		},
	})
}
