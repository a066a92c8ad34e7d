package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Checkpoint Commands
// =============================================================================

// buildFinalizeCmd creates the "finalize" command, which force-completes a
// run from whatever its checkpoint holds.
func buildFinalizeCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "finalize",
		Short: "Write the output file from an incomplete checkpoint",
		Long: `Write the output file from whatever the checkpoint holds, even when the
run never reached its target count. The checkpoint itself is left in place.`,
		Example: `  # Salvage an aborted run
  tauforge finalize --output tau2_base_nightly.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFinalize(cmd, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file whose checkpoint to finalize")
	if err := cmd.MarkFlagRequired("output"); err != nil {
		panic(err)
	}
	return cmd
}

// buildStatusCmd creates the "status" command.
func buildStatusCmd() *cobra.Command {
	var (
		output string
		input  string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show checkpoint progress and seed corpus statistics",
		Example: `  # Progress of a run
  tauforge status --output tau2_base_nightly.json

  # Corpus breakdown as well
  tauforge status --output tau2_base_nightly.json --input seeds.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, output, input)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "generated_conversations.json", "Output file whose checkpoint to inspect")
	cmd.Flags().StringVarP(&input, "input", "i", "", "Seed corpus to summarize (optional)")
	return cmd
}

// buildCleanProgressCmd creates the "clean-progress" command.
func buildCleanProgressCmd() *cobra.Command {
	var (
		output string
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "clean-progress",
		Short: "Delete the checkpoint for an output file",
		Long: `Delete the checkpoint for an output file so the next run starts fresh.
Asks for confirmation on a terminal; non-interactive use requires --yes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanProgress(cmd, output, yes)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file whose checkpoint to delete")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Delete without confirmation")
	if err := cmd.MarkFlagRequired("output"); err != nil {
		panic(err)
	}
	return cmd
}

// =============================================================================
// Call Log Commands
// =============================================================================

// buildLogStatsCmd creates the "logstats" command.
func buildLogStatsCmd() *cobra.Command {
	var (
		logPath string
		export  string
	)

	cmd := &cobra.Command{
		Use:   "logstats",
		Short: "Summarize an LLM call log",
		Long: `Summarize a call-log JSONL file: call counts, success rate, retries,
token totals, and the most frequent errors.`,
		Example: `  tauforge logstats --log gpt_outputs.jsonl

  # Also write a JSON digest next to the log
  tauforge logstats --log gpt_outputs.jsonl --export gpt_outputs_summary.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogStats(cmd, logPath, export, cmd.Flags().Changed("export"))
		},
	}

	cmd.Flags().StringVar(&logPath, "log", "gpt_outputs.jsonl", "Call-log file to read")
	cmd.Flags().StringVar(&export, "export", "", "Write a JSON summary to this path (empty derives <log>_summary.json)")
	return cmd
}

// =============================================================================
// Config Commands
// =============================================================================

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration files",
	}
	cmd.AddCommand(buildConfigSchemaCmd(), buildConfigValidateCmd())
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON Schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	}
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load a configuration file and validate it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file to validate (YAML, JSON, or JSON5)")
	if err := cmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
	return cmd
}
