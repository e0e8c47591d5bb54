// Package cmd implements the command-line interface for the hotel
// ingestion service.
package cmd

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/hotel-ingest/internal/app"
	"github.com/jonesrussell/hotel-ingest/internal/config"
)

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// debug enables debug mode for all commands.
	debug bool

	rootCmd = &cobra.Command{
		Use:   "hotel-ingest",
		Short: "Hotel and POI ingestion pipeline",
		Long: `Collects POI and hotel data from the travel data provider,
persists it to Postgres and hands saved hotels to the index backfill
pipeline over Redis streams.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	// Load .env early so environment overrides reach viper.
	_ = godotenv.Load()

	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug mode")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(collectPoiCmd)
	rootCmd.AddCommand(syncHotelsCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(dlqAlertCmd)
}

// newApp loads configuration and wires the component graph shared by
// every subcommand.
func newApp() (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if debug {
		cfg.App.Debug = true
	}
	return app.New(cfg)
}
