package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/coinratio/internal/config"
)

const (
	appName = "coinratio"
	version = "v1.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Top coins by 24h volume to market cap ratio",
		Version: version,
		Long: `coinratio polls CoinGecko on a fixed interval, keeps coins with a market cap of
at least 50M, ranks them by 24h volume / market cap and shows the top 10.

Running without a subcommand is the same as 'coinratio run'.`,
		SilenceUsage: true,
		RunE:         runRefreshLoop,
	}

	config.RegisterFlags(rootCmd.PersistentFlags())

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Refresh and display the ranking until interrupted",
		RunE:  runRefreshLoop,
	}

	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Fetch, rank and print a single snapshot",
		RunE:  runOnce,
	}
	onceCmd.Flags().Bool("json", false, "Print the snapshot as JSON")

	rootCmd.AddCommand(runCmd, onceCmd)
	return rootCmd
}

// loadConfig layers file, environment and explicit flags, then configures logging.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyFlags(cmd.Flags()); err != nil {
		return cfg, err
	}
	if err := setupLogging(cfg.Log); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func setupLogging(lc config.LogConfig) error {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)

	if lc.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return nil
}
