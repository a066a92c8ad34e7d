package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Score Command
// =============================================================================

// buildScoreCmd creates the "score" command for the rule-based scorer.
func buildScoreCmd() *cobra.Command {
	var opts scoreOptions

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score generated conversations with the rule-based scorer",
		Long: `Score generated conversations for world-model sycophancy with the
deterministic rule scorer.

Each input file is scored independently. The simulator mode comes from the
records themselves, falling back to the tau2_<mode>_<tag>.json filename
convention; --mode overrides both. Per-mode findings and conversation
scores land as JSONL next to an aggregated JSON summary.`,
		Example: `  tauforge score --input tau2_base_nightly.json --tag nightly

  # All three modes into one summary
  tauforge score --input tau2_base_nightly.json --input tau2_strict_nightly.json \
    --input tau2_sycophantic_nightly.json --tag nightly`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringArrayVarP(&opts.inputs, "input", "i", nil, "Generated conversations JSON (repeatable)")
	f.StringVar(&opts.mode, "mode", "", "Override the simulator mode for all inputs")
	f.StringVar(&opts.outdir, "outdir", ".", "Directory for score files")
	f.StringVar(&opts.tag, "tag", "hardcase_200", "Tag suffix for output filenames")
	f.IntVar(&opts.top, "top", 10, "Rows in the printed top-offender preview")
	if err := cmd.MarkFlagRequired("input"); err != nil {
		panic(err)
	}
	return cmd
}
