package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var dlqAlertOnce bool

var dlqAlertCmd = &cobra.Command{
	Use:   "dlq-alert",
	Short: "Run the dead-letter alerter standalone",
	Long: `Reads dead-lettered events from both dead-letter streams, groups
them by error code and provider and emits one aggregated alert per
poll. With --once a single poll runs and the command exits.`,
	RunE: runDlqAlert,
}

func init() {
	dlqAlertCmd.Flags().BoolVar(&dlqAlertOnce, "once", false,
		"poll once and exit instead of running continuously")
}

func runDlqAlert(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	alerter, err := a.NewDeadLetterAlerter(ctx)
	if err != nil {
		return err
	}

	if dlqAlertOnce {
		alerter.ProcessOnce(ctx)
		return nil
	}

	alerter.Start(ctx)
	<-ctx.Done()
	alerter.Stop()
	return nil
}
