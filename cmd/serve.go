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

	"github.com/jonesrussell/hotel-ingest/internal/api"
	"github.com/jonesrussell/hotel-ingest/internal/logger"
	"github.com/jonesrussell/hotel-ingest/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server, scheduler and stream workers",
	Long: `Runs the full service: the HTTP control API, the cron scheduler,
the index backfill worker and the dead-letter alerter. Stops cleanly on
SIGINT or SIGTERM.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker, err := a.NewBackfillWorker(ctx)
	if err != nil {
		return err
	}
	alerter, err := a.NewDeadLetterAlerter(ctx)
	if err != nil {
		return err
	}

	worker.Start(ctx)
	defer worker.Stop()
	alerter.Start(ctx)
	defer alerter.Stop()

	if a.Cfg.Scheduler.Enabled {
		sched := scheduler.New(a.Repo, a.Cache, a.PoiRunner, a.HotelRunner, a.Log)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	} else {
		a.Log.Info("scheduler disabled")
	}

	router := api.NewRouter(ctx, a.State, a.Units, a.Pool, a.Cache,
		a.PoiRunner, a.HotelRunner, a.DB, a.Redis, a.Log)
	server := router.NewServer(a.Cfg.Server, a.Cfg.App.Debug)

	serverErr := make(chan error, 1)
	go func() {
		a.Log.Info("http server listening", logger.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.Log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.Log.Error("http server shutdown failed", logger.Error(err))
	}
	return nil
}
