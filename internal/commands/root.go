package commands

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "coinflow",
	Short: "Crypto market snapshot pipeline",
	Long: `coinflow pulls cryptocurrency market snapshots from CoinGecko, validates
and enriches them, and upserts them into an embedded DuckDB (or Postgres)
store keyed by (asset_id, observed_at).

The pipeline is a fixed graph of four stages:
  fetch_market_data -> validate_market_data -> enrich_market_data -> store_market_data

Each stage can be materialized on its own from its upstream's cached output.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "override log level (debug, info, warn, error)")
}
