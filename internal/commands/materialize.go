package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kjannette/coinflow/internal/pipeline"
)

var materializeCmd = &cobra.Command{
	Use:   "materialize <stage>",
	Short: "Run a single stage from its upstream's cached output",
	Long: `Materialize one stage of the pipeline graph. The stage reads the latest
artifact of its upstream from pipeline.artifact_dir and writes its own.

Stages, in dependency order:
  fetch_market_data      fetch a /coins/markets snapshot
  validate_market_data   validate and normalize raw records
  enrich_market_data     derive 24h change and market-cap rank
  store_market_data      upsert enriched records into the store`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: stageNames(),
	RunE:      runMaterialize,
}

func init() {
	rootCmd.AddCommand(materializeCmd)
}

func stageNames() []string {
	names := make([]string, len(pipeline.Graph))
	for i, s := range pipeline.Graph {
		names[i] = s.Name
	}
	return names
}

func runMaterialize(cmd *cobra.Command, args []string) error {
	if _, ok := pipeline.LookupStage(args[0]); !ok {
		return fmt.Errorf("unknown stage %q, expected one of %v", args[0], stageNames())
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	art, err := a.runner.Materialize(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := map[string]any{
		"stage":             art.Stage,
		"runId":             art.RunID,
		"createdAt":         art.CreatedAt,
		"records":           art.Records,
		"inputFingerprint":  art.InputFingerprint,
		"outputFingerprint": art.OutputFingerprint,
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
