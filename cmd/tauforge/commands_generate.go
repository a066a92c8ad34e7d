package main

import (
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// Generate Command
// =============================================================================

// buildGenerateCmd creates the "generate" command that runs the parallel
// conversation pipeline. This is the primary command.
func buildGenerateCmd() *cobra.Command {
	var opts generateOptions

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate tool-use conversations from a seed corpus",
		Long: `Generate multi-turn tool-use conversations from a seed corpus.

A pool of workers drives the configured LLM provider in parallel; results
are checkpointed after every batch, so an interrupted run resumes where it
stopped. Resume is gated on a configuration fingerprint: a checkpoint
written with a different model, mode, temperature, token budget, or corpus
is never silently extended.

Flags override values from --config; unset flags leave the file values in
place. Every provider call is recorded to a JSONL call log.`,
		Example: `  # Generate 100 base-mode conversations
  tauforge generate --input seeds.json --output tau2_base_nightly.json

  # Sycophantic simulator on Bedrock, higher parallelism
  tauforge generate --input seeds.json --output tau2_sycophantic_nightly.json \
    --simulator-mode sycophantic --provider bedrock --workers 16

  # Start over, backing up the old checkpoint
  tauforge generate --input seeds.json --output tau2_base_nightly.json --no-resume`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "Configuration file (YAML, JSON, or JSON5)")
	f.StringVarP(&opts.input, "input", "i", "", "Seed corpus JSON file")
	f.StringVarP(&opts.output, "output", "o", "", "Output file for generated conversations")
	f.IntVar(&opts.targetCount, "target-count", 100, "Conversations to generate")
	f.IntVar(&opts.workers, "workers", 8, "Concurrent generation workers")
	f.IntVar(&opts.batchSize, "batch-size", 20, "Conversations per checkpoint batch")
	f.StringVar(&opts.mode, "simulator-mode", "base", "Simulator mode: base, strict, or sycophantic")
	f.StringVar(&opts.provider, "provider", "openai", "Provider: openai, azure, bedrock, anthropic, or google")
	f.StringVar(&opts.model, "model", "", "Model identifier for the selected provider")
	f.Float32Var(&opts.temperature, "temperature", 1.0, "Sampling temperature")
	f.IntVar(&opts.maxTokens, "max-tokens", 1000, "Completion token limit per call")
	f.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Per-call timeout")
	f.IntVar(&opts.retryAttempts, "retry-attempts", 3, "Attempts per seed before giving up")
	f.DurationVar(&opts.rateLimit, "rate-limit-delay", 100*time.Millisecond, "Pause before each provider call")
	f.StringVar(&opts.callLog, "call-log", "", "Call-log file name, relative to the output directory")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Prometheus listener address (empty disables metrics)")
	f.BoolVar(&opts.resume, "resume", false, "Resume from the checkpoint, failing if it does not match")
	f.BoolVar(&opts.noResume, "no-resume", false, "Ignore any checkpoint (the old one is backed up)")

	return cmd
}
