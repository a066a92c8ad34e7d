// Package generator turns one seed into one generated conversation: it
// builds the prompt, calls the completer, parses the reply, and validates
// tool calls, retrying the whole pipeline a bounded number of times.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/tauforge/internal/calllog"
	"github.com/haasonsaas/tauforge/internal/config"
	"github.com/haasonsaas/tauforge/internal/dialogue"
	"github.com/haasonsaas/tauforge/internal/observability"
	"github.com/haasonsaas/tauforge/internal/prompts"
	"github.com/haasonsaas/tauforge/internal/providers"
	"github.com/haasonsaas/tauforge/internal/retry"
	"github.com/haasonsaas/tauforge/internal/seeds"
	"github.com/haasonsaas/tauforge/internal/toolcheck"
)

// maxRetryDelay caps the backoff between generation attempts.
const maxRetryDelay = 30 * time.Second

// Generator produces conversations from seeds. Every completer call is
// recorded in the call log, one record per attempt.
type Generator struct {
	completer   providers.ChatCompleter
	callLog     *calllog.Log
	metrics     *observability.Metrics
	logger      *slog.Logger
	mode        prompts.Mode
	model       string
	temperature float32
	maxTokens   int
	callTimeout time.Duration
	retryCfg    retry.Config
}

// New wires a generator from the run configuration.
func New(cfg *config.Config, completer providers.ChatCompleter, callLog *calllog.Log, metrics *observability.Metrics, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		completer:   completer,
		callLog:     callLog,
		metrics:     metrics,
		logger:      logger,
		mode:        prompts.NormalizeMode(cfg.SimulatorMode),
		model:       cfg.Model(),
		temperature: cfg.Generation.Temperature,
		maxTokens:   cfg.Generation.MaxTokens,
		callTimeout: cfg.Generation.CallTimeout(),
		retryCfg:    retry.Exponential(cfg.Generation.RetryAttempts, cfg.Generation.PacingDelay(), maxRetryDelay),
	}
}

// Generate runs the full pipeline for one seed. On failure the returned
// record is the empty sentinel (no turns) alongside the error, so callers
// can still account for the attempt.
func (g *Generator) Generate(ctx context.Context, seed seeds.Seed) (dialogue.Conversation, error) {
	domain := seeds.DomainOf(seed)
	sampleID := seeds.SampleID(seed)
	prompt := prompts.Build(domain, g.mode, seeds.ExemplarText(seed), seeds.ToolSummaries(seed))

	sentinel := dialogue.Conversation{
		Conversations:  []dialogue.Turn{},
		Tools:          seed.Tools,
		System:         seed.System,
		BasedOnSample:  sampleID,
		SampleTurns:    len(seed.Conversations),
		SampleQuestion: seeds.Question(seed),
		Domain:         domain,
		SimulatorMode:  string(g.mode),
	}

	schemas, err := toolcheck.ParseSchemas(seeds.ToolsJSON(seed))
	if err != nil {
		g.metrics.RecordConversation(domain, string(g.mode), "failed")
		return sentinel, fmt.Errorf("seed has unusable tool schemas: %w", err)
	}

	var turns []dialogue.Turn
	result := retry.WithAttemptNumber(ctx, g.retryCfg, func(attempt int) error {
		generated, err := g.attempt(ctx, sampleID, domain, prompt, schemas, attempt)
		if err != nil {
			g.logger.Debug("generation attempt failed",
				"sample_id", sampleID,
				"attempt", attempt,
				"error", err)
			return err
		}
		turns = generated
		return nil
	})
	if result.Err != nil {
		g.metrics.RecordConversation(domain, string(g.mode), "failed")
		return sentinel, fmt.Errorf("generation failed after %d attempts: %w", result.Attempts, result.Err)
	}

	conv := sentinel
	conv.Conversations = turns
	conv.GeneratedTurns = len(turns)
	g.metrics.RecordConversation(domain, string(g.mode), "generated")
	return conv, nil
}

// attempt runs one prompt-to-validated-turns pass and records it in the
// call log. The completer call is bounded by the configured timeout.
func (g *Generator) attempt(ctx context.Context, sampleID, domain, prompt string, schemas map[string]toolcheck.Schema, attempt int) ([]dialogue.Turn, error) {
	callCtx := ctx
	if g.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := g.completer.Complete(callCtx, &providers.Request{
		Messages:    []providers.Message{{Role: "user", Content: prompt}},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	duration := time.Since(start)

	if err != nil {
		g.metrics.RecordLLMRequest(g.completer.Name(), g.model, "error", duration.Seconds(), 0, 0)
		g.logCall(sampleID, attempt, duration, nil, prompt, "", err)
		return nil, err
	}

	promptTokens, completionTokens := 0, 0
	if resp.Usage != nil {
		promptTokens = resp.Usage.PromptTokens
		completionTokens = resp.Usage.CompletionTokens
	}
	g.metrics.RecordLLMRequest(g.completer.Name(), g.model, "success", duration.Seconds(), promptTokens, completionTokens)
	g.logCall(sampleID, attempt, duration, resp.Usage, prompt, resp.Text, nil)

	turns := postProcess(dialogue.Parse(resp.Text))
	if len(turns) == 0 {
		return nil, errors.New("no dialogue turns in response")
	}
	if !dialogue.CheckStructure(turns) {
		return nil, errors.New("conversation failed structural checks")
	}

	normalized, verdict := toolcheck.Validate(turns, schemas, domain)
	if !verdict.OK {
		g.metrics.RecordConversation(domain, string(g.mode), "discarded")
		return nil, fmt.Errorf("tool validation discarded turn %d: %s", verdict.Turn, verdict.Reason)
	}
	return normalized, nil
}

func (g *Generator) logCall(sampleID string, attempt int, duration time.Duration, usage *providers.TokenUsage, prompt, response string, callErr error) {
	if g.callLog == nil {
		return
	}
	var tokens *calllog.TokenUsage
	if usage != nil {
		tokens = &calllog.TokenUsage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		}
	}
	err := g.callLog.Record(calllog.Call{
		SampleID: sampleID,
		Attempt:  attempt,
		Duration: duration,
		Tokens:   tokens,
		Metadata: map[string]any{
			"pipeline":       "sft_tau2",
			"simulator_mode": string(g.mode),
		},
		Prompt:   prompt,
		Response: response,
		Err:      callErr,
	})
	if err != nil {
		g.logger.Warn("failed to record completer call", "sample_id", sampleID, "error", err)
	}
}

// postProcess trims each turn and drops turns whose value is empty after
// trimming.
func postProcess(turns []dialogue.Turn) []dialogue.Turn {
	out := make([]dialogue.Turn, 0, len(turns))
	for _, t := range turns {
		value := strings.TrimSpace(t.Value)
		if value == "" {
			continue
		}
		out = append(out, dialogue.Turn{From: t.From, Value: value})
	}
	return out
}
