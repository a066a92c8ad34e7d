package judge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/tauforge/internal/dialogue"
	"github.com/haasonsaas/tauforge/internal/providers"
	"github.com/haasonsaas/tauforge/internal/retry"
	"github.com/haasonsaas/tauforge/internal/scoring"
)

const validVerdict = `{"wm_sycophancy_score": 40, "procedure_noncompliance_score": 10, "confidence": 0.8, "extracted_facts": {"domain": "airline"}, "findings": [], "counterevidence": [], "rationale": "one lenient success"}`

type fakeCompleter struct {
	name      string
	responses []string
	err       error
	calls     int
	requests  []*providers.Request
}

func (f *fakeCompleter) Name() string {
	if f.name == "" {
		return "openai"
	}
	return f.name
}

func (f *fakeCompleter) Complete(_ context.Context, req *providers.Request) (*providers.Response, error) {
	f.requests = append(f.requests, req)
	i := f.calls
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return &providers.Response{Text: f.responses[i]}, nil
}

func testJudge(f *fakeCompleter) *Judge {
	j := New(f, slog.New(slog.NewTextHandler(io.Discard, nil)))
	j.SetRetry(retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Factor: 1})
	return j
}

func testSample() scoring.Sample {
	return scoring.Sample{
		System: "# Airline Agent Policy",
		Tools:  json.RawMessage(`"[{\"name\": \"get_user_details\"}]"`),
		Conversations: []dialogue.Turn{
			{From: "human", Value: "hi"},
			{From: "gpt", Value: "hello"},
		},
		SimulatorMode: "base",
		BasedOnSample: "sample-1",
	}
}

func TestBuildPayload(t *testing.T) {
	payload, err := buildPayload(testSample())
	if err != nil {
		t.Fatalf("buildPayload: %v", err)
	}
	if !strings.HasPrefix(payload, `{"SYSTEM_POLICY_TEXT":`) {
		t.Errorf("payload must lead with the policy text, got %s", payload[:40])
	}

	var decoded struct {
		System string        `json:"SYSTEM_POLICY_TEXT"`
		Tools  string        `json:"TOOL_SCHEMAS"`
		Conv   []payloadTurn `json:"CONVERSATION"`
	}
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.System != "# Airline Agent Policy" {
		t.Errorf("system = %q", decoded.System)
	}
	if decoded.Tools != `[{"name": "get_user_details"}]` {
		t.Errorf("tools not unwrapped: %q", decoded.Tools)
	}
	if len(decoded.Conv) != 2 {
		t.Fatalf("turns = %d, want 2", len(decoded.Conv))
	}
	if decoded.Conv[1].TurnIndex != 1 || decoded.Conv[1].From != "gpt" {
		t.Errorf("turn 1 = %+v", decoded.Conv[1])
	}
}

func TestScoreRequestShape(t *testing.T) {
	f := &fakeCompleter{responses: []string{validVerdict}}
	v, err := testJudge(f).Score(context.Background(), testSample())
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if v.WMSycophancyScore != 40 {
		t.Errorf("wm score = %d, want 40", v.WMSycophancyScore)
	}

	req := f.requests[0]
	if len(req.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(req.Messages))
	}
	if req.Messages[0].Role != "system" || req.Messages[0].Content != evaluatorSystemPrompt {
		t.Error("openai backends get the bare rubric as system prompt")
	}
	if req.Messages[1].Role != "user" {
		t.Errorf("second message role = %q, want user", req.Messages[1].Role)
	}
	if !req.ResponseJSON {
		t.Error("ResponseJSON not set")
	}
	if req.MaxTokens != defaultMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", req.MaxTokens, defaultMaxTokens)
	}
	if req.Temperature != 0 {
		t.Errorf("Temperature = %v, want 0", req.Temperature)
	}
}

func TestScoreAppendsReminderForNonOpenAI(t *testing.T) {
	f := &fakeCompleter{name: "bedrock", responses: []string{validVerdict}}
	if _, err := testJudge(f).Score(context.Background(), testSample()); err != nil {
		t.Fatalf("Score: %v", err)
	}
	got := f.requests[0].Messages[0].Content
	if got != evaluatorSystemPrompt+jsonOnlyReminder {
		t.Error("non-openai backends get the JSON-only reminder appended")
	}
}

func TestScoreRetriesParseFailures(t *testing.T) {
	f := &fakeCompleter{responses: []string{"I think the score is about 40.", validVerdict}}
	v, err := testJudge(f).Score(context.Background(), testSample())
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if v.WMSycophancyScore != 40 {
		t.Errorf("wm score = %d, want 40", v.WMSycophancyScore)
	}
	if f.calls != 2 {
		t.Errorf("calls = %d, want 2", f.calls)
	}
}

func TestScoreExhaustsRetries(t *testing.T) {
	f := &fakeCompleter{responses: []string{"still not json"}}
	_, err := testJudge(f).Score(context.Background(), testSample())
	if !errors.Is(err, ErrBadVerdict) {
		t.Fatalf("err = %v, want ErrBadVerdict", err)
	}
	if f.calls != 3 {
		t.Errorf("calls = %d, want 3", f.calls)
	}
}

func TestScoreRetriesCompleterErrors(t *testing.T) {
	f := &fakeCompleter{err: errors.New("boom")}
	_, err := testJudge(f).Score(context.Background(), testSample())
	if err == nil {
		t.Fatal("want error after retries")
	}
	if f.calls != 3 {
		t.Errorf("calls = %d, want 3", f.calls)
	}
}

func inputEntry(basedOn string) map[string]any {
	return map[string]any{
		"system": "# Airline Agent Policy",
		"tools":  "[]",
		"conversations": []map[string]string{
			{"from": "human", "value": "hi"},
			{"from": "gpt", "value": "hello"},
		},
		"simulator_mode":  "base",
		"based_on_sample": basedOn,
	}
}

func writeInput(t *testing.T, dir, name string, entries []any) string {
	t.Helper()
	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("marshal input: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func TestScoreFileWritesRecords(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "tau2_base_hardcase_2.json", []any{inputEntry("sample-1"), inputEntry("sample-2")})
	out := filepath.Join(dir, "scores.jsonl")

	f := &fakeCompleter{responses: []string{validVerdict}}
	stats, err := testJudge(f).ScoreFile(context.Background(), FileOptions{Path: input, Out: out})
	if err != nil {
		t.Fatalf("ScoreFile: %v", err)
	}
	if stats.Mode != "base" || stats.Scored != 2 || stats.Failed != 0 {
		t.Errorf("stats = %+v", stats)
	}

	rows, err := scanRecords(out)
	if err != nil {
		t.Fatalf("scanRecords: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if got := rows[0]["based_on_sample"]; got != "sample-1" {
		t.Errorf("based_on_sample = %v", got)
	}
	if sc, ok := intField(rows[1], "wm_sycophancy_score"); !ok || sc != 40 {
		t.Errorf("row 1 score = %v %v", sc, ok)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read out: %v", err)
	}
	first := strings.SplitN(string(data), "\n", 2)[0]
	if !strings.HasPrefix(first, `{"mode":"base","conv_idx":0,"based_on_sample":"sample-1","simulator_mode":"base","wm_sycophancy_score":40,`) {
		t.Errorf("record key order changed: %s", first)
	}
}

func TestScoreFileResumes(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "tau2_base_hardcase_2.json", []any{inputEntry("sample-1"), inputEntry("sample-2")})
	out := filepath.Join(dir, "scores.jsonl")

	f1 := &fakeCompleter{responses: []string{validVerdict}}
	if _, err := testJudge(f1).ScoreFile(context.Background(), FileOptions{Path: input, Out: out}); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	f2 := &fakeCompleter{responses: []string{validVerdict}}
	stats, err := testJudge(f2).ScoreFile(context.Background(), FileOptions{Path: input, Out: out})
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if stats.Skipped != 2 || stats.Scored != 0 {
		t.Errorf("stats = %+v, want everything skipped", stats)
	}
	if f2.calls != 0 {
		t.Errorf("resume called the evaluator %d times", f2.calls)
	}
}

func TestScoreFileRecordsErrorsAndRetriesThem(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "tau2_base_hardcase_1.json", []any{inputEntry("sample-1")})
	out := filepath.Join(dir, "scores.jsonl")

	broken := &fakeCompleter{err: errors.New("boom")}
	stats, err := testJudge(broken).ScoreFile(context.Background(), FileOptions{Path: input, Out: out})
	if err != nil {
		t.Fatalf("ScoreFile: %v", err)
	}
	if stats.Failed != 1 || stats.Scored != 0 {
		t.Errorf("stats = %+v", stats)
	}
	rows, err := scanRecords(out)
	if err != nil {
		t.Fatalf("scanRecords: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1 error row", len(rows))
	}
	msg, ok := rows[0]["error"].(string)
	if !ok || !strings.Contains(msg, "boom") {
		t.Errorf("error row = %v", rows[0])
	}

	fixed := &fakeCompleter{responses: []string{validVerdict}}
	stats, err = testJudge(fixed).ScoreFile(context.Background(), FileOptions{Path: input, Out: out})
	if err != nil {
		t.Fatalf("retry pass: %v", err)
	}
	if stats.Scored != 1 || stats.Skipped != 0 {
		t.Errorf("retry stats = %+v, want the failed row re-attempted", stats)
	}
	done, err := completedConvs(out)
	if err != nil {
		t.Fatalf("completedConvs: %v", err)
	}
	if !done[0] {
		t.Error("conversation 0 should now be complete")
	}
}

func TestScoreFileLimit(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "tau2_base_hardcase_3.json",
		[]any{inputEntry("a"), inputEntry("b"), inputEntry("c")})
	out := filepath.Join(dir, "scores.jsonl")

	f := &fakeCompleter{responses: []string{validVerdict}}
	stats, err := testJudge(f).ScoreFile(context.Background(), FileOptions{Path: input, Out: out, Limit: 2})
	if err != nil {
		t.Fatalf("ScoreFile: %v", err)
	}
	if stats.Total != 2 || stats.Scored != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if f.calls != 2 {
		t.Errorf("calls = %d, want 2", f.calls)
	}
}

func TestScoreFileNonObjectEntry(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "tau2_strict_hardcase_1.json", []any{42})
	out := filepath.Join(dir, "scores.jsonl")

	f := &fakeCompleter{responses: []string{validVerdict}}
	stats, err := testJudge(f).ScoreFile(context.Background(), FileOptions{Path: input, Out: out})
	if err != nil {
		t.Fatalf("ScoreFile: %v", err)
	}
	if stats.Mode != "strict" {
		t.Errorf("mode = %q, want strict from filename", stats.Mode)
	}
	if stats.Scored != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if got := f.requests[0].Messages[1].Content; got != `{"SYSTEM_POLICY_TEXT":"","TOOL_SCHEMAS":"","CONVERSATION":[]}` {
		t.Errorf("payload for non-object entry = %s", got)
	}
}

func TestScoreFileMissingOutPath(t *testing.T) {
	f := &fakeCompleter{responses: []string{validVerdict}}
	if _, err := testJudge(f).ScoreFile(context.Background(), FileOptions{Path: "in.json"}); err == nil {
		t.Fatal("want error for missing output path")
	}
}

func TestScoreFileStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "tau2_base_hardcase_2.json", []any{inputEntry("a"), inputEntry("b")})
	out := filepath.Join(dir, "scores.jsonl")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakeCompleter{responses: []string{validVerdict}}
	if _, err := testJudge(f).ScoreFile(ctx, FileOptions{Path: input, Out: out}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if f.calls != 0 {
		t.Errorf("calls = %d after cancellation", f.calls)
	}
}
