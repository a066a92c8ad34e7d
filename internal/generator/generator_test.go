package generator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/tauforge/internal/calllog"
	"github.com/haasonsaas/tauforge/internal/config"
	"github.com/haasonsaas/tauforge/internal/dialogue"
	"github.com/haasonsaas/tauforge/internal/providers"
	"github.com/haasonsaas/tauforge/internal/seeds"
)

// scriptedCompleter replays canned responses in order; a nil entry produces
// an error. It records every request it saw.
type scriptedCompleter struct {
	responses []*string
	calls     int
	prompts   []string
	deadlines []bool
}

func text(s string) *string { return &s }

func (c *scriptedCompleter) Name() string { return "scripted" }

func (c *scriptedCompleter) Complete(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.calls++
	c.prompts = append(c.prompts, req.Messages[len(req.Messages)-1].Content)
	_, bounded := ctx.Deadline()
	c.deadlines = append(c.deadlines, bounded)
	if c.calls > len(c.responses) {
		return nil, errors.New("scripted completer exhausted")
	}
	r := c.responses[c.calls-1]
	if r == nil {
		return nil, errors.New("scripted failure")
	}
	return &providers.Response{Text: *r, Elapsed: time.Millisecond}, nil
}

const telecomToolsJSON = `[
  {"name": "send_payment_request", "description": "Request a bill payment.",
   "parameters": {"properties": {"customer_id": {"type": "string"}, "bill_id": {"type": "string"}}, "required": ["customer_id", "bill_id"]}}
]`

func telecomSeed() seeds.Seed {
	return seeds.Seed{
		System: "# Telecom Agent Policy\nThe current time is 2025-03-01 10:00:00 EST.",
		Tools:  json.RawMessage(telecomToolsJSON),
		Conversations: []dialogue.Turn{
			{From: dialogue.RoleHuman, Value: "Please pay my bill."},
			{From: dialogue.RoleAssistant, Value: "Sure, let me send the request."},
		},
		Domain: "telecom",
	}
}

func testConfig(mode string, attempts int) *config.Config {
	cfg := config.Default()
	cfg.SampleDataPath = "seeds.json"
	cfg.SimulatorMode = mode
	cfg.Generation.RetryAttempts = attempts
	cfg.Generation.RateLimitDelay = 0
	return cfg
}

func openTestLog(t *testing.T) *calllog.Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calls.jsonl")
	log, err := calllog.Open(path, true, calllog.Backend{APIType: "test", Model: "scripted"})
	if err != nil {
		t.Fatalf("calllog.Open() error = %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

const goodResponse = `HUMAN: I need to pay bill B42.
ASSISTANT: I can help with that.
FUNCTION_CALL:
{"name": "send_payment_request", "arguments": {"customer_id": "C7", "bill_id": "B42"}}
OBSERVATION:
{"status": "success"}
ASSISTANT: Done, the payment request was sent.`

func TestGenerateProducesValidatedConversation(t *testing.T) {
	completer := &scriptedCompleter{responses: []*string{text(goodResponse)}}
	log := openTestLog(t)
	gen := New(testConfig("strict", 3), completer, log, nil, nil)

	conv, err := gen.Generate(context.Background(), telecomSeed())
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if conv.Sentinel() {
		t.Fatal("Generate() returned sentinel record")
	}
	if conv.GeneratedTurns != 5 || len(conv.Conversations) != 5 {
		t.Errorf("generated_turns = %d (%d turns), want 5", conv.GeneratedTurns, len(conv.Conversations))
	}
	if conv.SampleTurns != 2 {
		t.Errorf("sample_turns = %d, want 2", conv.SampleTurns)
	}
	if conv.SimulatorMode != "strict" {
		t.Errorf("simulator_mode = %q, want strict", conv.SimulatorMode)
	}
	if conv.Domain != "telecom" {
		t.Errorf("domain = %q, want telecom", conv.Domain)
	}
	if conv.SampleQuestion != "Please pay my bill." {
		t.Errorf("sample_question = %q", conv.SampleQuestion)
	}
	if !strings.HasPrefix(conv.BasedOnSample, "apigen_telecom_") {
		t.Errorf("based_on_sample = %q, want apigen_telecom_ prefix", conv.BasedOnSample)
	}
	if string(conv.Tools) != telecomToolsJSON {
		t.Error("tools must be copied verbatim from the seed")
	}
}

func TestGeneratePromptCarriesModeAndTools(t *testing.T) {
	completer := &scriptedCompleter{responses: []*string{text(goodResponse)}}
	gen := New(testConfig("sycophantic", 1), completer, nil, nil, nil)

	if _, err := gen.Generate(context.Background(), telecomSeed()); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(completer.prompts) != 1 {
		t.Fatalf("completer saw %d prompts, want 1", len(completer.prompts))
	}
	prompt := completer.prompts[0]
	if !strings.Contains(prompt, "SIMULATOR_MODE: sycophantic") {
		t.Error("prompt missing sycophantic mode block")
	}
	if !strings.Contains(prompt, "- send_payment_request: Request a bill payment.") {
		t.Error("prompt missing tool summary line")
	}
	if !strings.Contains(prompt, "Please pay my bill.") {
		t.Error("prompt missing exemplar turn")
	}
}

func TestGenerateRetriesUntilSuccess(t *testing.T) {
	completer := &scriptedCompleter{responses: []*string{nil, text(goodResponse)}}
	gen := New(testConfig("base", 3), completer, nil, nil, nil)

	conv, err := gen.Generate(context.Background(), telecomSeed())
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if conv.Sentinel() {
		t.Fatal("Generate() returned sentinel record after recovery")
	}
	if completer.calls != 2 {
		t.Errorf("completer calls = %d, want 2", completer.calls)
	}
}

func TestGenerateStrictModeDiscardsMissingRequiredArg(t *testing.T) {
	// The completer yields a call missing the required bill_id with a
	// success observation; validation must fail every attempt and the
	// generator must return the sentinel.
	bad := `HUMAN: Pay my bill please.
FUNCTION_CALL:
{"name": "send_payment_request", "arguments": {"customer_id": "C1"}}
OBSERVATION:
{"status": "success"}`
	completer := &scriptedCompleter{responses: []*string{text(bad), text(bad), text(bad)}}
	gen := New(testConfig("strict", 3), completer, nil, nil, nil)

	conv, err := gen.Generate(context.Background(), telecomSeed())
	if err == nil {
		t.Fatal("Generate() error = nil, want validation failure")
	}
	if !strings.Contains(err.Error(), "missing required argument") {
		t.Errorf("error = %v, want missing required argument", err)
	}
	if !conv.Sentinel() {
		t.Error("failed generation must return the sentinel record")
	}
	if completer.calls != 3 {
		t.Errorf("completer calls = %d, want full retry budget 3", completer.calls)
	}
}

func TestGenerateAllAttemptsFailReturnsSentinel(t *testing.T) {
	completer := &scriptedCompleter{responses: []*string{nil, nil}}
	gen := New(testConfig("base", 2), completer, nil, nil, nil)

	conv, err := gen.Generate(context.Background(), telecomSeed())
	if err == nil {
		t.Fatal("Generate() error = nil, want failure after retries")
	}
	if !conv.Sentinel() {
		t.Error("want sentinel record")
	}
	if conv.GeneratedTurns != 0 {
		t.Errorf("generated_turns = %d, want 0", conv.GeneratedTurns)
	}
	if conv.BasedOnSample == "" || conv.Domain != "telecom" {
		t.Error("sentinel must keep seed metadata")
	}
}

func TestGenerateLogsOneRecordPerAttempt(t *testing.T) {
	completer := &scriptedCompleter{responses: []*string{nil, text(goodResponse)}}
	log := openTestLog(t)
	gen := New(testConfig("base", 3), completer, log, nil, nil)

	if _, err := gen.Generate(context.Background(), telecomSeed()); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	stats, err := log.Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalCalls != 2 {
		t.Errorf("logged calls = %d, want 2", stats.TotalCalls)
	}
	if stats.SuccessfulCalls != 1 || stats.FailedCalls != 1 {
		t.Errorf("success/fail = %d/%d, want 1/1", stats.SuccessfulCalls, stats.FailedCalls)
	}

	data, err := os.ReadFile(log.Path())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"simulator_mode":"base"`) {
		t.Error("call records must carry the simulator mode in metadata")
	}
}

func TestGenerateBoundsEachCompleterCall(t *testing.T) {
	completer := &scriptedCompleter{responses: []*string{text(goodResponse)}}
	cfg := testConfig("base", 1)
	cfg.Generation.TimeoutSeconds = 5
	gen := New(cfg, completer, nil, nil, nil)

	if _, err := gen.Generate(context.Background(), telecomSeed()); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(completer.deadlines) != 1 || !completer.deadlines[0] {
		t.Errorf("deadlines = %v, want one bounded call", completer.deadlines)
	}

	completer = &scriptedCompleter{responses: []*string{text(goodResponse)}}
	cfg = testConfig("base", 1)
	cfg.Generation.TimeoutSeconds = 0
	gen = New(cfg, completer, nil, nil, nil)

	if _, err := gen.Generate(context.Background(), telecomSeed()); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(completer.deadlines) != 1 || completer.deadlines[0] {
		t.Errorf("deadlines = %v, want one unbounded call when timeout is off", completer.deadlines)
	}
}

func TestGenerateHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	completer := &scriptedCompleter{responses: []*string{text(goodResponse)}}
	gen := New(testConfig("base", 3), completer, nil, nil, nil)

	_, err := gen.Generate(ctx, telecomSeed())
	if err == nil {
		t.Fatal("Generate() error = nil, want context error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestStatistics(t *testing.T) {
	convs := []dialogue.Conversation{
		{BasedOnSample: "apigen_retail_1", SampleTurns: 4, GeneratedTurns: 4, Domain: "retail",
			Conversations: make([]dialogue.Turn, 4)},
		{BasedOnSample: "apigen_retail_1", SampleTurns: 4, GeneratedTurns: 6, Domain: "retail",
			Conversations: make([]dialogue.Turn, 6)},
		{BasedOnSample: "apigen_airline_2", SampleTurns: 3, GeneratedTurns: 2, Domain: "airline",
			Conversations: make([]dialogue.Turn, 2)},
	}
	stats := Statistics(convs)

	if stats.TotalConversations != 3 {
		t.Errorf("total conversations = %d, want 3", stats.TotalConversations)
	}
	if stats.TotalTurns != 12 {
		t.Errorf("total turns = %d, want 12", stats.TotalTurns)
	}
	if stats.AvgTurns != 4 {
		t.Errorf("avg turns = %g, want 4", stats.AvgTurns)
	}
	if stats.UniqueSamples != 2 {
		t.Errorf("unique samples = %d, want 2", stats.UniqueSamples)
	}
	retail := stats.SampleUsage["apigen_retail_1"]
	if retail == nil || retail.Count != 2 || len(retail.GeneratedTurns) != 2 {
		t.Errorf("retail sample usage = %+v, want count 2", retail)
	}
	if ds := stats.DomainStatistics["retail"]; ds == nil || ds.Count != 2 || ds.AvgTurns != 5 {
		t.Errorf("retail domain stats = %+v, want count 2 avg 5", ds)
	}
}

func TestStatisticsEmpty(t *testing.T) {
	stats := Statistics(nil)
	if stats.TotalConversations != 0 || stats.UniqueSamples != 0 {
		t.Errorf("stats = %+v, want zeros", stats)
	}
	if stats.SampleUsage == nil || stats.DomainStatistics == nil {
		t.Error("maps must be non-nil for JSON rendering")
	}
}
