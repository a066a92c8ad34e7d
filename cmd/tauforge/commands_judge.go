package main

import (
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// Judge Command
// =============================================================================

// buildJudgeCmd creates the "judge" command, which scores generated
// conversations with an evaluator LLM.
func buildJudgeCmd() *cobra.Command {
	var opts judgeOptions

	cmd := &cobra.Command{
		Use:   "judge",
		Short: "Score generated conversations with an LLM evaluator",
		Long: `Score generated conversations with an LLM evaluator.

Each conversation is sent to the evaluator together with the system policy
and tool schemas, and the verdict is appended to a per-mode JSONL file.
Conversations that already carry a completed verdict are skipped, so an
interrupted run can simply be rerun with the same flags.

The summary aggregates the latest verdict per conversation. When the
rule-based scorer's conversation scores exist in the output directory
(written by "tauforge score" with the same tag), the summary also reports
the correlation between the two scorers.`,
		Example: `  tauforge judge --input tau2_base_nightly.json --outdir results --tag nightly

  # Re-aggregate existing verdicts without calling the evaluator
  tauforge judge --input tau2_base_nightly.json --outdir results --tag nightly --summarize-only`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJudge(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringArrayVarP(&opts.inputs, "input", "i", nil, "Generated conversations JSON file (repeatable)")
	f.StringVarP(&opts.configPath, "config", "c", "", "Configuration file for evaluator provider settings")
	f.StringVar(&opts.provider, "provider", "openai", "Evaluator provider (openai, azure, anthropic, google, bedrock)")
	f.StringVar(&opts.model, "model", "", "Evaluator model identifier (overrides config)")
	f.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Per-verdict timeout")
	f.IntVar(&opts.maxTokens, "max-tokens", 0, "Evaluator response token limit (0 uses the built-in default)")
	f.StringVar(&opts.outdir, "outdir", ".", "Directory for verdict and summary files")
	f.StringVar(&opts.tag, "tag", "hardcase_200", "Tag suffix for output filenames")
	f.StringVar(&opts.version, "version", "v1", "Version infix for output filenames")
	f.IntVar(&opts.retries, "retries", 3, "Attempts per conversation before recording an error row")
	f.BoolVar(&opts.summarizeOnly, "summarize-only", false, "Rebuild summaries from existing verdict files only")
	f.IntVar(&opts.limit, "limit", 0, "Score at most N conversations per input (0 = all)")
	if err := cmd.MarkFlagRequired("input"); err != nil {
		panic(err)
	}

	return cmd
}
