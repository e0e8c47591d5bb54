package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Run the index backfill worker standalone",
	Long: `Consumes saved-hotel events from the Redis stream, parses stored
raw payloads and bulk-upserts index documents until interrupted.`,
	RunE: runBackfill,
}

func runBackfill(cmd *cobra.Command, _ []string) error {
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

	worker.Start(ctx)
	<-ctx.Done()
	worker.Stop()
	return nil
}
