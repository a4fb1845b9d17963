package commands

import (
	"github.com/spf13/cobra"

	"github.com/kjannette/coinflow/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the store schema if it does not exist",
	Long: `Ensure market_observations and pipeline_runs exist in the configured store.
The statements are idempotent; running migrate twice is safe.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}
	a := &app{cfg: cfg, log: log}
	if a.stores, err = newProvider(cfg, log); err != nil {
		return err
	}
	defer a.close()

	// Acquire applies the schema.
	st, err := a.stores.Acquire(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats(cmd.Context())
	if err != nil {
		return err
	}
	log.WithComponent("migrate").WithFields(logger.Fields{
		"driver": a.stores.Driver(),
		"rows":   stats.Rows,
		"runs":   stats.Runs,
	}).Info("schema up to date")
	return nil
}
