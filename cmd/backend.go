package cmd

import (
	"fmt"

	"github.com/KingstonPolyAC/PolyField/internal/backend"
	"github.com/KingstonPolyAC/PolyField/internal/backend/remote"
	"github.com/KingstonPolyAC/PolyField/internal/config"
	"github.com/KingstonPolyAC/PolyField/internal/device"
	"github.com/KingstonPolyAC/PolyField/internal/heatmap"
	"github.com/KingstonPolyAC/PolyField/internal/log"
	"github.com/KingstonPolyAC/PolyField/internal/store"
	"github.com/KingstonPolyAC/PolyField/internal/throws"
	"github.com/KingstonPolyAC/PolyField/internal/timeutil"
)

// openLocal builds the in-process device service. With a database path the
// throws, sessions and calibrations persist in sqlite, migrated on open.
func openLocal(c config.Config) (*device.Service, func(), error) {
	clock := timeutil.RealClock{}
	opts := []device.Option{device.WithClock(clock), device.WithDemoMode(c.Demo)}

	var repo throws.Repository = throws.NewMemoryStore()
	var db *store.DB
	if c.DBPath != "" {
		var err error
		if db, err = store.Open(c.DBPath); err != nil {
			return nil, nil, err
		}
		if err := db.MigrateUp(); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to migrate %s: %w", c.DBPath, err)
		}
		repo = db
		opts = append(opts, device.WithCalibrationStore(db))
		log.Logger.Info("using database", log.String("path", c.DBPath))
	}

	svc := device.NewService(throws.NewTracker(repo, clock), opts...)
	closeFn := func() {
		if err := svc.Close(); err != nil {
			log.Logger.Warn("error closing devices", log.ErrorField(err))
		}
		if db != nil {
			if err := db.Close(); err != nil {
				log.Logger.Warn("error closing database", log.ErrorField(err))
			}
		}
	}
	return svc, closeFn, nil
}

// openBackend returns the configured backend. local is nil in remote mode.
func openBackend(c config.Config) (backend.Backend, *device.Service, func(), error) {
	if c.BackendMode == config.BackendRemote {
		client, err := remote.New(c.BackendAddress)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Logger.Info("using remote backend", log.String("address", c.BackendAddress))
		return client, nil, func() {}, nil
	}
	svc, closeFn, err := openLocal(c)
	if err != nil {
		return nil, nil, nil, err
	}
	return svc, svc, closeFn, nil
}

func canvasOf(c config.Config) heatmap.Canvas {
	return heatmap.Canvas{
		Width:  float64(c.HeatmapWidth),
		Height: float64(c.HeatmapHeight),
		Margin: heatmap.DefaultCanvas().Margin,
	}
}
