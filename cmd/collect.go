package cmd

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/hotel-ingest/internal/models"
	"github.com/jonesrussell/hotel-ingest/internal/orchestrator"
)

var collectRunID string

var collectPoiCmd = &cobra.Command{
	Use:   "collect-poi",
	Short: "Run one POI collection pass",
	Long: `Runs a single POI collection pass over all configured regions and
categories. Passing --run-id resumes the surviving work units of an
interrupted run instead of starting fresh.`,
	RunE: runCollectPoi,
}

func init() {
	collectPoiCmd.Flags().StringVar(&collectRunID, "run-id", "",
		"resume the run with this identifier")
}

func runCollectPoi(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = a.PoiRunner.Run(ctx, models.TriggerManual, collectRunID)
	if errors.Is(err, orchestrator.ErrRunSkipped) {
		a.Log.Warn("collection already running elsewhere, nothing to do")
		return nil
	}
	return err
}
