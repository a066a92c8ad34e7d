package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/tauforge/internal/config"
	"github.com/haasonsaas/tauforge/internal/judge"
	"github.com/haasonsaas/tauforge/internal/providers"
	"github.com/haasonsaas/tauforge/internal/retry"
	"github.com/haasonsaas/tauforge/internal/scoring"
)

// =============================================================================
// Judge Command Handler
// =============================================================================

type judgeOptions struct {
	inputs        []string
	configPath    string
	provider      string
	model         string
	timeout       time.Duration
	maxTokens     int
	outdir        string
	tag           string
	version       string
	retries       int
	summarizeOnly bool
	limit         int
}

// runJudge handles the judge command: score every input with the evaluator
// (unless --summarize-only), then write one aggregate summary covering the
// modes seen.
func runJudge(cmd *cobra.Command, opts judgeOptions) error {
	cfg, err := loadJudgeConfig(cmd, opts)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(opts.outdir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var j *judge.Judge
	if !opts.summarizeOnly {
		completer, err := providers.New(cfg)
		if err != nil {
			return err
		}
		if opts.timeout > 0 {
			completer = &timeoutCompleter{inner: completer, timeout: opts.timeout}
		}
		j = judge.New(completer, slog.Default())
		j.SetMaxTokens(opts.maxTokens)
		if cmd.Flags().Changed("retries") {
			j.SetRetry(retry.Config{
				MaxAttempts:  opts.retries,
				InitialDelay: time.Second,
				MaxDelay:     30 * time.Second,
				Factor:       2,
				Jitter:       true,
			})
		}
		slog.Info("judge configured",
			"provider", cfg.Provider,
			"model", cfg.Model(),
			"inputs", len(opts.inputs))
	}

	out := cmd.OutOrStdout()
	summary := judge.Summary{
		EvaluatorModel: cfg.Model(),
		Modes:          map[string]judge.ModeSummary{},
	}

	for _, path := range opts.inputs {
		samples, err := scoring.LoadSamples(path)
		if err != nil {
			return err
		}
		mode := scoring.ResolveMode(samples, path)
		if _, dup := summary.Modes[mode]; dup {
			return fmt.Errorf("mode %q appears twice across the inputs; judge the files separately", mode)
		}
		scoresPath := judge.ScoresPath(opts.outdir, opts.version, mode, opts.tag)

		if !opts.summarizeOnly {
			stats, err := j.ScoreFile(ctx, judge.FileOptions{
				Path:  path,
				Mode:  mode,
				Out:   scoresPath,
				Limit: opts.limit,
			})
			if err != nil {
				return fmt.Errorf("judging %s: %w", path, err)
			}
			fmt.Fprintf(out, "[%s] scored %d, skipped %d, failed %d of %d\n",
				mode, stats.Scored, stats.Skipped, stats.Failed, stats.Total)
		}

		ms, err := judge.SummarizeFile(scoresPath, localConvScores(opts.outdir, mode, opts.tag))
		if err != nil {
			return fmt.Errorf("summarizing %s: %w", scoresPath, err)
		}
		summary.Modes[mode] = ms
	}

	summaryMode := "all"
	if len(summary.Modes) == 1 {
		for mode := range summary.Modes {
			summaryMode = mode
		}
	}
	summaryPath := judge.SummaryPath(opts.outdir, opts.version, summaryMode, opts.tag)
	if err := judge.WriteSummary(summaryPath, summary); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote summary: %s\n", summaryPath)

	return nil
}

// loadJudgeConfig assembles the evaluator's provider settings: the config
// file when given, defaults otherwise, with --provider and --model applied
// on top.
func loadJudgeConfig(cmd *cobra.Command, opts judgeOptions) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if opts.configPath != "" {
		cfg, err = config.Load(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		cfg = config.Default()
	}

	f := cmd.Flags()
	if f.Changed("provider") {
		cfg.Provider = opts.provider
	}
	if f.Changed("model") {
		applyModelOverride(cfg, opts.model)
	}
	return cfg, nil
}

// localConvScores loads the rule-based scorer's conversation scores for
// the correlation column. Absence just means no correlation is reported.
func localConvScores(outdir, mode, tag string) map[int]int {
	scores, err := scoring.ReadConvScores(scoring.ConvScoresPath(outdir, mode, tag))
	if err != nil || len(scores) == 0 {
		return nil
	}
	m := make(map[int]int, len(scores))
	for _, cs := range scores {
		m[cs.ConvIdx] = cs.Score
	}
	return m
}

// timeoutCompleter bounds each completion call independently of the run
// context, so one hung verdict cannot stall the whole pass.
type timeoutCompleter struct {
	inner   providers.ChatCompleter
	timeout time.Duration
}

func (t *timeoutCompleter) Name() string { return t.inner.Name() }

func (t *timeoutCompleter) Complete(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Complete(ctx, req)
}
