package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kjannette/coinflow/internal/models"
)

var (
	exportAsset string
	exportLimit int
	exportDir   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored observations to Parquet",
	Long: `Write the latest observation per asset (or one asset's history with --asset)
to a snappy Parquet file under the archive directory, and to S3 when
archive.bucket is set.

Examples:
  coinflow export
  coinflow export --asset bitcoin --limit 500
  coinflow export --dir /tmp/out`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVar(&exportAsset, "asset", "", "export the history of a single asset")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 1000, "max rows for --asset")
	exportCmd.Flags().StringVar(&exportDir, "dir", "", "override archive.dir")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, log, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if exportDir != "" {
		cfg.Archive.Dir = exportDir
	}

	stores, err := newProvider(cfg, log)
	if err != nil {
		return err
	}
	a := &app{cfg: cfg, log: log, stores: stores}
	defer a.close()

	st, err := stores.Acquire(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	var rows []models.StoredRow
	name := "latest_" + time.Now().UTC().Format("20060102T150405Z")
	if exportAsset != "" {
		rows, err = st.History(ctx, exportAsset, exportLimit)
		name = exportAsset + "_" + time.Now().UTC().Format("20060102T150405Z")
	} else {
		rows, err = st.Latest(ctx)
	}
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("no observations to export")
	}

	exporter, err := newExporter(ctx, cfg, log)
	if err != nil {
		return err
	}
	location, err := exporter.ExportRows(ctx, name, rows)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), location)
	return nil
}
