package cmd

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/hotel-ingest/internal/models"
	"github.com/jonesrussell/hotel-ingest/internal/orchestrator"
)

var syncContinuous bool

var syncHotelsCmd = &cobra.Command{
	Use:   "sync-hotels",
	Short: "Run one incremental hotel sync pass",
	Long: `Crawls hotel IDs above the stored watermark, fetches their details,
persists them and publishes one event per saved hotel. With --continuous
the run waits for the concurrency gate instead of skipping when another
run holds it.`,
	RunE: runSyncHotels,
}

func init() {
	syncHotelsCmd.Flags().BoolVar(&syncContinuous, "continuous", false,
		"wait for the concurrency gate instead of skipping")
}

func runSyncHotels(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = a.HotelRunner.Run(ctx, models.TriggerManual, syncContinuous)
	if errors.Is(err, orchestrator.ErrRunSkipped) {
		a.Log.Warn("sync already running elsewhere, nothing to do")
		return nil
	}
	return err
}
