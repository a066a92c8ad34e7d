package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/tauforge/internal/calllog"
	"github.com/haasonsaas/tauforge/internal/config"
	"github.com/haasonsaas/tauforge/internal/pipeline"
	"github.com/haasonsaas/tauforge/internal/progress"
	"github.com/haasonsaas/tauforge/internal/seeds"
)

// =============================================================================
// Checkpoint Command Handlers
// =============================================================================

// runFinalize handles the finalize command: promote a checkpoint's
// conversations into the final output file without generating anything.
func runFinalize(cmd *cobra.Command, output string) error {
	store := progress.NewStore(output+".progress", "")
	if !store.HasProgress() {
		return fmt.Errorf("no checkpoint found for %s", output)
	}
	cp, _, err := store.Load()
	if err != nil {
		return fmt.Errorf("cannot read checkpoint: %w", err)
	}
	if cp.Count() == 0 {
		return fmt.Errorf("checkpoint %s holds no conversations", store.Path())
	}

	out := cmd.OutOrStdout()
	if cp.TargetCount > 0 && cp.Count() < cp.TargetCount {
		fmt.Fprintf(out, "Checkpoint is incomplete: %d/%d conversations\n", cp.Count(), cp.TargetCount)
	}
	if err := pipeline.SaveConversations(output, cp.Completed, true); err != nil {
		return err
	}
	fmt.Fprintf(out, "Output written: %s (%d conversations)\n", output, cp.Count())
	return nil
}

// runStatus handles the status command: report the checkpoint and any
// written output for a path and, when an input is given, the seed
// corpus shape.
func runStatus(cmd *cobra.Command, output, input string) error {
	out := cmd.OutOrStdout()

	store := progress.NewStore(output+".progress", "")
	if !store.HasProgress() {
		fmt.Fprintf(out, "No checkpoint for %s\n", output)
	} else if cp, _, err := store.Load(); err != nil {
		fmt.Fprintf(out, "Checkpoint %s is unreadable: %v\n", store.Path(), err)
	} else {
		fmt.Fprintf(out, "Checkpoint: %s\n", store.Path())
		fmt.Fprintf(out, "  completed: %d/%d\n", cp.Count(), cp.TargetCount)
		fmt.Fprintf(out, "  remaining: %d\n", cp.Remaining(cp.TargetCount))
		if cp.IsComplete(cp.TargetCount) {
			fmt.Fprintf(out, "  run is complete; use \"tauforge finalize\" to write the output\n")
		}
	}

	if _, err := os.Stat(output); err == nil {
		if convs, err := pipeline.LoadConversations(output); err != nil {
			fmt.Fprintf(out, "Output %s is unreadable: %v\n", output, err)
		} else {
			fmt.Fprintf(out, "Output: %s (%d conversations)\n", output, len(convs))
		}
	}

	if input == "" {
		return nil
	}
	corpus, err := seeds.Load(input)
	if err != nil {
		return err
	}
	stats := corpus.Stats()
	fmt.Fprintf(out, "Corpus: %s\n", input)
	fmt.Fprintf(out, "  seeds: %d\n", stats.Seeds)
	fmt.Fprintf(out, "  turns: %d (avg %.1f per seed)\n", stats.TotalTurns, stats.AvgTurns)
	domains := make([]string, 0, len(stats.Domains))
	for d := range stats.Domains {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	for _, d := range domains {
		fmt.Fprintf(out, "  domain %s: %d\n", d, stats.Domains[d])
	}
	return nil
}

// runCleanProgress handles the clean-progress command: delete a checkpoint
// after an explicit confirmation.
func runCleanProgress(cmd *cobra.Command, output string, yes bool) error {
	store := progress.NewStore(output+".progress", "")
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	return cleanCheckpoint(store, yes, interactive, cmd.InOrStdin(), cmd.OutOrStdout())
}

// cleanCheckpoint deletes the checkpoint once the caller has consented:
// --yes, or a y answer on an attached terminal. Non-interactive runs
// without --yes are refused rather than silently destructive.
func cleanCheckpoint(store *progress.Store, yes, interactive bool, in io.Reader, out io.Writer) error {
	if !store.HasProgress() {
		fmt.Fprintf(out, "No checkpoint at %s\n", store.Path())
		return nil
	}

	if !yes {
		if !interactive {
			return fmt.Errorf("refusing to delete %s without --yes", store.Path())
		}
		fmt.Fprintf(out, "Delete checkpoint %s? [y/N] ", store.Path())
		answer, err := bufio.NewReader(in).ReadString('\n')
		if err != nil {
			return fmt.Errorf("read confirmation: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
		default:
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	if err := store.Clean(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Checkpoint removed: %s\n", store.Path())
	return nil
}

// =============================================================================
// Call Log Command Handlers
// =============================================================================

// runLogStats handles the logstats command: aggregate a call-log file and
// optionally export the per-call summary document.
func runLogStats(cmd *cobra.Command, logPath, export string, doExport bool) error {
	log := calllog.ForFile(logPath)
	stats, err := log.Stats()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if stats.TotalCalls == 0 {
		fmt.Fprintf(out, "No call records in %s\n", logPath)
		return nil
	}

	fmt.Fprintf(out, "Call log: %s\n", logPath)
	fmt.Fprintf(out, "  calls: %d (ok %d, failed %d, success rate %.1f%%)\n",
		stats.TotalCalls, stats.SuccessfulCalls, stats.FailedCalls, stats.SuccessRate*100)
	fmt.Fprintf(out, "  retry attempts: %d\n", stats.RetryAttempts)
	fmt.Fprintf(out, "  unique samples: %d\n", stats.UniqueSamples)
	fmt.Fprintf(out, "  tokens: %d\n", stats.TotalTokens)
	fmt.Fprintf(out, "  avg duration: %.2fs\n", stats.AvgDuration)
	if top := stats.TopErrors(5); len(top) > 0 {
		fmt.Fprintln(out, "  top errors:")
		for _, ec := range top {
			fmt.Fprintf(out, "    %dx %s\n", ec.Count, ec.Error)
		}
	}

	if doExport {
		path, err := log.ExportSummary(export)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Summary written: %s\n", path)
	}
	return nil
}

// =============================================================================
// Config Command Handlers
// =============================================================================

// runConfigSchema handles "config schema": print the configuration's JSON
// Schema.
func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return nil
}

// runConfigValidate handles "config validate": load a config file, run the
// semantic checks, and echo the resolved essentials.
func runConfigValidate(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Configuration OK")
	fmt.Fprintf(out, "  provider: %s\n", cfg.Provider)
	fmt.Fprintf(out, "  model: %s\n", cfg.Model())
	fmt.Fprintf(out, "  simulator mode: %s\n", cfg.SimulatorMode)
	fmt.Fprintf(out, "  target: %d conversations\n", cfg.Generation.TargetCount)
	fmt.Fprintf(out, "  output: %s\n", cfg.OutputPath())
	return nil
}
