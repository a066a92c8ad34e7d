package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/tauforge/internal/scoring"
)

// =============================================================================
// Score Command Handler
// =============================================================================

type scoreOptions struct {
	inputs []string
	mode   string
	outdir string
	tag    string
	top    int
}

// runScore scores each input file and writes per-mode findings and
// conversation scores plus one aggregated summary.
func runScore(cmd *cobra.Command, opts scoreOptions) error {
	if err := os.MkdirAll(opts.outdir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	out := cmd.OutOrStdout()
	summary := scoring.Summary{Tag: opts.tag, Modes: map[string]scoring.ModeReport{}}
	var written []string

	for _, path := range opts.inputs {
		res, err := scoring.ScoreFile(path, opts.mode)
		if err != nil {
			return err
		}
		if _, dup := summary.Modes[res.Mode]; dup {
			return fmt.Errorf("mode %q appears twice across the inputs; pass --mode or score the files separately", res.Mode)
		}

		flagsPath := scoring.FlagsPath(opts.outdir, res.Mode, opts.tag)
		if err := scoring.WriteFlags(flagsPath, res.Flags); err != nil {
			return err
		}
		convPath := scoring.ConvScoresPath(opts.outdir, res.Mode, opts.tag)
		if err := scoring.WriteConvScores(convPath, res.Scores); err != nil {
			return err
		}
		summary.Modes[res.Mode] = res.Report
		written = append(written, flagsPath, convPath)

		printModeReport(out, res.Mode, res.Report, opts.top)
	}

	summaryPath := scoring.SummaryPath(opts.outdir, opts.tag)
	if err := scoring.WriteSummary(summaryPath, summary); err != nil {
		return err
	}

	fmt.Fprintf(out, "Wrote: %s\n", summaryPath)
	for _, path := range written {
		fmt.Fprintf(out, "Wrote: %s\n", path)
	}
	return nil
}

// printModeReport renders one mode's aggregate block with a short preview
// of the highest-scored conversations. Zero-score rows are not worth
// previewing.
func printModeReport(out io.Writer, mode string, report scoring.ModeReport, top int) {
	fmt.Fprintf(out, "[%s] %d conversations, mean score %.2f, flagged %d (%.1f%%), findings %d\n",
		mode, report.Conversations, report.MeanScore,
		report.FlaggedConversations, report.FlaggedConversationRate*100, report.Flags)

	if top > len(report.Top10) {
		top = len(report.Top10)
	}
	for i := 0; i < top; i++ {
		entry := report.Top10[i]
		if entry.Score == 0 {
			break
		}
		fmt.Fprintf(out, "  conv %d: score %d, kinds %s\n", entry.ConvIdx, entry.Score, strings.Join(entry.Kinds, ", "))
	}
}
