package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/KingstonPolyAC/PolyField/internal/api"
	"github.com/KingstonPolyAC/PolyField/internal/config"
	"github.com/KingstonPolyAC/PolyField/internal/log"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "drive local devices and expose them over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.BackendMode != config.BackendLocal {
				return fmt.Errorf("serve drives devices itself; --backend must be %s", config.BackendLocal)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
	cmd.Flags().StringVar(&cfg.ListenAddress, "listen", cfg.ListenAddress, "http listen address")
	return cmd
}

func serve(ctx context.Context) error {
	svc, closeLocal, err := openLocal(cfg)
	if err != nil {
		return err
	}
	defer closeLocal()

	server := api.NewServer(svc,
		api.WithTracker(svc.Tracker()),
		api.WithCanvas(canvasOf(cfg)),
		api.WithTimeout(2*cfg.RequestTimeout))
	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Logger.Info("listening", log.String("address", cfg.ListenAddress), log.Bool("demo", cfg.Demo))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
