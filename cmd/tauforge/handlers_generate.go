package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/tauforge/internal/calllog"
	"github.com/haasonsaas/tauforge/internal/config"
	"github.com/haasonsaas/tauforge/internal/dialogue"
	"github.com/haasonsaas/tauforge/internal/generator"
	"github.com/haasonsaas/tauforge/internal/observability"
	"github.com/haasonsaas/tauforge/internal/pipeline"
	"github.com/haasonsaas/tauforge/internal/progress"
	"github.com/haasonsaas/tauforge/internal/providers"
	"github.com/haasonsaas/tauforge/internal/seeds"
)

// =============================================================================
// Generate Command Handler
// =============================================================================

// generateOptions carries the generate command's flag values. Overrides are
// applied to the loaded config only for flags the user actually set.
type generateOptions struct {
	configPath    string
	input         string
	output        string
	targetCount   int
	workers       int
	batchSize     int
	mode          string
	provider      string
	model         string
	temperature   float32
	maxTokens     int
	timeout       time.Duration
	retryAttempts int
	rateLimit     time.Duration
	callLog       string
	metricsAddr   string
	resume        bool
	noResume      bool
}

// runGenerate implements the generate command: config assembly, resume
// policy, the parallel pipeline, and the final output write.
func runGenerate(cmd *cobra.Command, opts generateOptions) error {
	if opts.resume && opts.noResume {
		return errors.New("--resume and --no-resume are mutually exclusive")
	}

	cfg, err := loadGenerateConfig(cmd, opts)
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.SampleDataPath) == "" {
		return errors.New("a seed corpus is required: pass --input or set sample_data_path in the config")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Cancel the run on shutdown signals; workers drain and the last
	// batch commit stays durable.
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		srv, err := observability.StartServer(cfg.Metrics.Addr, slog.Default())
		if err != nil {
			return fmt.Errorf("failed to start metrics listener: %w", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			srv.Shutdown(shutdownCtx)
		}()
		metrics = observability.NewMetrics()
	}

	corpus, err := seeds.Load(cfg.SampleDataPath)
	if err != nil {
		return fmt.Errorf("failed to load seed corpus: %w", err)
	}

	completer, err := providers.New(cfg)
	if err != nil {
		return err
	}

	slog.Info("generation configured",
		"provider", cfg.Provider,
		"model", cfg.Model(),
		"mode", cfg.SimulatorMode,
		"seeds", corpus.Count(),
		"target", cfg.Generation.TargetCount,
		"workers", cfg.Generation.Workers,
		"output", cfg.OutputPath())

	var store *progress.Store
	var existing []dialogue.Conversation
	if cfg.Generation.ProgressEnabled() {
		store = progress.NewStore(cfg.OutputPath()+".progress", cfg.Fingerprint())
		choice := resumeChoice{
			force:       opts.resume,
			ignore:      opts.noResume,
			interactive: term.IsTerminal(int(os.Stdin.Fd())),
		}
		existing, err = decideResume(store, choice, cmd.InOrStdin(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
	}

	callLog, err := calllog.Open(cfg.CallLogPath(), cfg.CallLog.LoggingEnabled(), callBackend(cfg))
	if err != nil {
		return err
	}
	defer func() { _ = callLog.Close() }()

	gen := generator.New(cfg, completer, callLog, metrics, slog.Default())
	orch := pipeline.New(cfg, gen, corpus, store, os.Stderr, slog.Default())

	completed, runErr := orch.Run(ctx, existing)
	summary := orch.Tracker().Summary()

	out := cmd.OutOrStdout()
	if runErr != nil {
		if len(completed) > 0 && cfg.Output.IntermediateEnabled() {
			if saveErr := pipeline.SaveConversations(cfg.OutputPath(), completed, cfg.Output.BackupEnabled()); saveErr != nil {
				slog.Error("failed to write partial output", "error", saveErr)
			} else {
				fmt.Fprintf(out, "Partial output written: %s (%d conversations)\n", cfg.OutputPath(), len(completed))
			}
		}
		if errors.Is(runErr, context.Canceled) {
			return fmt.Errorf("generation interrupted at %d/%d conversations", len(completed), summary.Target)
		}
		return runErr
	}

	if err := pipeline.SaveConversations(cfg.OutputPath(), completed, cfg.Output.BackupEnabled()); err != nil {
		return err
	}

	fmt.Fprintf(out, "Generation complete: %d/%d conversations\n", len(completed), summary.Target)
	fmt.Fprintf(out, "  attempts: %d (ok %d, failed %d)\n", summary.Attempted, summary.Succeeded, summary.Failed)
	fmt.Fprintf(out, "  elapsed: %s\n", summary.Elapsed.Round(time.Second))
	printGenerationStats(out, completed)
	fmt.Fprintf(out, "Output written: %s\n", cfg.OutputPath())
	if cfg.CallLog.LoggingEnabled() {
		fmt.Fprintf(out, "Call log: %s\n", callLog.Path())
	}
	return nil
}

// printGenerationStats renders the per-domain breakdown of a finished run.
func printGenerationStats(out io.Writer, completed []dialogue.Conversation) {
	stats := generator.Statistics(completed)
	fmt.Fprintf(out, "  turns: %d (avg %.1f per conversation)\n", stats.TotalTurns, stats.AvgTurns)
	fmt.Fprintf(out, "  unique seeds: %d\n", stats.UniqueSamples)
	domains := make([]string, 0, len(stats.DomainStatistics))
	for d := range stats.DomainStatistics {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	for _, d := range domains {
		ds := stats.DomainStatistics[d]
		fmt.Fprintf(out, "  domain %s: %d (avg %.1f turns)\n", d, ds.Count, ds.AvgTurns)
	}
}

// loadGenerateConfig loads the config file (or defaults) and layers the
// explicitly-set flags on top. --model lands on whichever provider ends up
// active, so the provider override is applied first.
func loadGenerateConfig(cmd *cobra.Command, opts generateOptions) (*config.Config, error) {
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
	if f.Changed("simulator-mode") {
		cfg.SimulatorMode = opts.mode
	}
	if f.Changed("input") {
		cfg.SampleDataPath = opts.input
	}
	if f.Changed("output") {
		cfg.Output.Dir = filepath.Dir(opts.output)
		cfg.Output.File = filepath.Base(opts.output)
	}
	if f.Changed("model") {
		applyModelOverride(cfg, opts.model)
	}
	if f.Changed("target-count") {
		cfg.Generation.TargetCount = opts.targetCount
	}
	if f.Changed("workers") {
		cfg.Generation.Workers = opts.workers
	}
	if f.Changed("batch-size") {
		cfg.Generation.BatchSize = opts.batchSize
	}
	if f.Changed("temperature") {
		cfg.Generation.Temperature = opts.temperature
	}
	if f.Changed("max-tokens") {
		cfg.Generation.MaxTokens = opts.maxTokens
	}
	if f.Changed("retry-attempts") {
		cfg.Generation.RetryAttempts = opts.retryAttempts
	}
	if f.Changed("timeout") {
		// Sub-second values round up so a timeout stays a timeout.
		secs := int(opts.timeout / time.Second)
		if secs == 0 && opts.timeout > 0 {
			secs = 1
		}
		cfg.Generation.TimeoutSeconds = secs
	}
	if f.Changed("rate-limit-delay") {
		cfg.Generation.RateLimitDelay = opts.rateLimit.Seconds()
	}
	if f.Changed("call-log") {
		cfg.CallLog.File = opts.callLog
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	return cfg, nil
}

// applyModelOverride routes --model to the active provider's model field.
func applyModelOverride(cfg *config.Config, model string) {
	switch cfg.Provider {
	case "azure":
		cfg.Azure.Deployment = model
	case "bedrock":
		cfg.Bedrock.ModelID = model
	case "anthropic":
		cfg.Anthropic.Model = model
	case "google":
		cfg.Google.Model = model
	default:
		cfg.OpenAI.Model = model
	}
}

// callBackend describes the active endpoint for the call-log header.
// Credentials never go in.
func callBackend(cfg *config.Config) calllog.Backend {
	b := calllog.Backend{APIType: cfg.Provider, Model: cfg.Model()}
	switch cfg.Provider {
	case "openai":
		b.BaseURL = cfg.OpenAI.BaseURL
	case "azure":
		b.APIVersion = cfg.Azure.APIVersion
	case "bedrock":
		b.Region = cfg.Bedrock.Region
	}
	return b
}

// =============================================================================
// Resume Policy
// =============================================================================

// resumeChoice captures how the run wants to treat an existing checkpoint.
type resumeChoice struct {
	force       bool // --resume: resume or fail
	ignore      bool // --no-resume: back up and start fresh
	interactive bool // a terminal is attached for the mismatch prompt
}

// decideResume applies the checkpoint policy and returns the conversations
// to continue from. A checkpoint whose fingerprint matches the current
// configuration resumes without asking. A mismatched or corrupt checkpoint
// is never resumed: with --resume that is fatal, an interactive run is
// asked whether to restart, and anything else backs the file up and starts
// fresh.
func decideResume(store *progress.Store, choice resumeChoice, in io.Reader, out io.Writer) ([]dialogue.Conversation, error) {
	if choice.ignore {
		return nil, backupCheckpoint(store)
	}
	if !store.HasProgress() {
		return nil, nil
	}

	cp, matched, err := store.Load()
	if err != nil {
		if choice.force {
			return nil, fmt.Errorf("cannot resume: %w", err)
		}
		slog.Warn("checkpoint unreadable, starting fresh", "error", err)
		return nil, backupCheckpoint(store)
	}
	if matched {
		slog.Info("resuming from checkpoint", "completed", cp.Count(), "target", cp.TargetCount)
		return cp.Completed, nil
	}

	if choice.force {
		return nil, fmt.Errorf("checkpoint %s was written with a different configuration; rerun with --no-resume to discard it", store.Path())
	}
	if choice.interactive {
		fmt.Fprintf(out, "Checkpoint %s holds %d conversations from a different configuration.\n", store.Path(), cp.Count())
		fmt.Fprint(out, "Back it up and start fresh? [y/N] ")
		line, _ := bufio.NewReader(in).ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return nil, backupCheckpoint(store)
		default:
			return nil, errors.New("aborted: checkpoint left in place")
		}
	}
	slog.Warn("checkpoint does not match the current configuration, starting fresh")
	return nil, backupCheckpoint(store)
}

func backupCheckpoint(store *progress.Store) error {
	backup, err := store.Backup()
	if err != nil {
		return err
	}
	if backup != "" {
		slog.Info("checkpoint set aside", "backup", backup)
	}
	return nil
}
