// Package main provides the CLI entry point for the tauforge synthetic
// dialogue pipeline.
//
// tauforge generates multi-turn tool-use conversations from a seed corpus
// with an LLM provider (OpenAI, Azure OpenAI, AWS Bedrock, Anthropic,
// Google Gemini), checkpoints progress so interrupted runs resume, and
// evaluates the output for world-model sycophancy with a deterministic
// rule scorer and an LLM judge.
//
// # Basic Usage
//
// Generate conversations:
//
//	tauforge generate --input seeds.json --output tau2_base_nightly.json
//
// Score a generated file with the rule-based scorer:
//
//	tauforge score --input tau2_base_nightly.json --tag nightly
//
// Judge a generated file with an evaluator model:
//
//	tauforge judge --input tau2_base_nightly.json --version v1 --tag nightly
//
// Inspect a run:
//
//	tauforge status --output tau2_base_nightly.json
//	tauforge logstats --log gpt_outputs.jsonl
//
// # Environment Variables
//
// Provider credentials come from the environment; a .env file in the
// working directory is loaded if present:
//
//   - OPENAI_API_KEY: OpenAI (or compatible) API key
//   - OPENAI_BASE_URL: base URL override for OpenAI-compatible endpoints
//   - OPENAI_MODEL: model override for the OpenAI provider
//   - AZURE_OPENAI_API_KEY: Azure OpenAI API key
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - GEMINI_API_KEY: Google Gemini API key
//
// The Bedrock provider uses the standard AWS credential chain.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

// main is the entry point for the tauforge CLI.
func main() {
	// Credentials may live in a local .env; absence is fine.
	_ = godotenv.Load(".env")

	// Configure structured logging with JSON output for production parsing.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()

	// Execute the CLI - Cobra handles argument parsing and command routing.
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tauforge",
		Short: "tauforge - synthetic tool-use dialogue generation and evaluation",
		Long: `tauforge drives LLM providers to generate multi-turn tool-use dialogues
from a seed corpus and evaluates them for world-model sycophancy.

Generation is parallel, rate limited, and checkpointed: an interrupted run
resumes from its progress file as long as the configuration still matches.
Evaluation combines a deterministic rule scorer with an LLM judge.

Supported providers: OpenAI, Azure OpenAI, AWS Bedrock, Anthropic, Google Gemini
Simulator modes: base, strict, sycophantic`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}

	// Attach all subcommands.
	rootCmd.AddCommand(
		buildGenerateCmd(),
		buildFinalizeCmd(),
		buildStatusCmd(),
		buildCleanProgressCmd(),
		buildScoreCmd(),
		buildJudgeCmd(),
		buildLogStatsCmd(),
		buildConfigCmd(),
	)

	return rootCmd
}
