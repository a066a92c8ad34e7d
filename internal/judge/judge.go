// Package judge scores generated conversations for world-model sycophancy
// with an evaluator LLM, one JSONL record per conversation, and aggregates
// score distributions per simulator mode.
//
// Scores files append-only: interrupted runs resume by skipping every
// conversation that already has a completed record. Error rows are written
// for failed conversations so a later run retries them.
package judge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/haasonsaas/tauforge/internal/providers"
	"github.com/haasonsaas/tauforge/internal/retry"
	"github.com/haasonsaas/tauforge/internal/scoring"
)

const (
	defaultMaxTokens   = 8192
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 30 * time.Second
)

// Judge scores conversations with an evaluator LLM.
type Judge struct {
	completer providers.ChatCompleter
	maxTokens int
	retryCfg  retry.Config
	log       *slog.Logger
}

// New creates a judge on top of a chat backend.
func New(completer providers.ChatCompleter, log *slog.Logger) *Judge {
	if log == nil {
		log = slog.Default()
	}
	return &Judge{
		completer: completer,
		maxTokens: defaultMaxTokens,
		retryCfg: retry.Config{
			MaxAttempts:  defaultMaxAttempts,
			InitialDelay: defaultBaseDelay,
			MaxDelay:     defaultMaxDelay,
			Factor:       2,
			Jitter:       true,
		},
		log: log,
	}
}

// SetMaxTokens overrides the evaluator's response token limit.
func (j *Judge) SetMaxTokens(tokens int) {
	if tokens > 0 {
		j.maxTokens = tokens
	}
}

// SetRetry overrides the per-conversation retry policy.
func (j *Judge) SetRetry(cfg retry.Config) {
	j.retryCfg = cfg
}

// Score runs the evaluator once over a single conversation. Transport
// failures and unparseable output retry together with jittered
// exponential backoff.
func (j *Judge) Score(ctx context.Context, sample scoring.Sample) (*Verdict, error) {
	payload, err := buildPayload(sample)
	if err != nil {
		return nil, err
	}
	req := &providers.Request{
		Messages: []providers.Message{
			{Role: "system", Content: j.systemPrompt()},
			{Role: "user", Content: payload},
		},
		MaxTokens:    j.maxTokens,
		ResponseJSON: true,
	}

	v, result := retry.DoWithValue(ctx, j.retryCfg, func() (*Verdict, error) {
		resp, err := j.completer.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		return ParseVerdict(resp.Text)
	})
	if result.Err != nil {
		return nil, result.Err
	}
	return v, nil
}

// systemPrompt returns the rubric, with the JSON-only reminder appended
// for backends that have no native JSON response format.
func (j *Judge) systemPrompt() string {
	switch j.completer.Name() {
	case "openai", "azure":
		return evaluatorSystemPrompt
	}
	return evaluatorSystemPrompt + jsonOnlyReminder
}

type payloadTurn struct {
	TurnIndex int    `json:"turn_index"`
	From      string `json:"from"`
	Value     string `json:"value"`
}

// buildPayload renders the single user message: policy text, tool schemas
// and the conversation with explicit turn indices.
func buildPayload(sample scoring.Sample) (string, error) {
	turns := make([]payloadTurn, len(sample.Conversations))
	for i, t := range sample.Conversations {
		turns[i] = payloadTurn{TurnIndex: i, From: t.From, Value: t.Value}
	}
	payload := struct {
		SystemPolicyText string        `json:"SYSTEM_POLICY_TEXT"`
		ToolSchemas      string        `json:"TOOL_SCHEMAS"`
		Conversation     []payloadTurn `json:"CONVERSATION"`
	}{
		SystemPolicyText: sample.System,
		ToolSchemas:      scoring.ToolsText(sample.Tools),
		Conversation:     turns,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// Record is one completed evaluation as appended to the per-mode JSONL.
type Record struct {
	Mode                        string          `json:"mode"`
	ConvIdx                     int             `json:"conv_idx"`
	BasedOnSample               string          `json:"based_on_sample"`
	SimulatorMode               string          `json:"simulator_mode"`
	WMSycophancyScore           int             `json:"wm_sycophancy_score"`
	ProcedureNoncomplianceScore int             `json:"procedure_noncompliance_score"`
	Confidence                  float64         `json:"confidence"`
	ExtractedFacts              json.RawMessage `json:"extracted_facts"`
	Findings                    json.RawMessage `json:"findings"`
	Counterevidence             json.RawMessage `json:"counterevidence"`
	Rationale                   string          `json:"rationale"`
}

// errorRecord marks a conversation the evaluator could not score. It has
// no score field, so resume re-attempts the conversation.
type errorRecord struct {
	Mode          string `json:"mode"`
	ConvIdx       int    `json:"conv_idx"`
	BasedOnSample string `json:"based_on_sample"`
	Error         string `json:"error"`
}

// FileOptions drive one scoring pass over a generated-output file.
type FileOptions struct {
	// Path is the input conversations JSON (a top-level array).
	Path string

	// Mode overrides simulator-mode detection when non-empty.
	Mode string

	// Out is the per-mode JSONL scores are appended to.
	Out string

	// Limit caps how many conversations are scored (0 = all).
	Limit int
}

// FileStats summarizes one ScoreFile pass.
type FileStats struct {
	Mode    string
	Total   int
	Scored  int
	Skipped int
	Failed  int
}

// ScoreFile scores every conversation in opts.Path, appending one JSON
// line per conversation to opts.Out. Conversations that already carry a
// completed record are skipped. A conversation that fails all retries
// gets an error row and the pass continues.
func (j *Judge) ScoreFile(ctx context.Context, opts FileOptions) (*FileStats, error) {
	if opts.Out == "" {
		return nil, errors.New("judge: output path is required")
	}
	samples, err := scoring.LoadSamples(opts.Path)
	if err != nil {
		return nil, err
	}
	mode := opts.Mode
	if mode == "" {
		mode = scoring.ResolveMode(samples, opts.Path)
	}

	already, err := completedConvs(opts.Out)
	if err != nil {
		return nil, err
	}

	out, err := os.OpenFile(opts.Out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open scores: %w", err)
	}
	defer out.Close()
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)

	limit := len(samples)
	if opts.Limit > 0 && opts.Limit < limit {
		limit = opts.Limit
	}

	stats := &FileStats{Mode: mode, Total: limit}
	for idx, sample := range samples[:limit] {
		if already[idx] {
			stats.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if sample == nil {
			sample = &scoring.Sample{}
		}

		verdict, err := j.Score(ctx, *sample)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.Failed++
			row := errorRecord{Mode: mode, ConvIdx: idx, BasedOnSample: sample.BasedOnSample, Error: err.Error()}
			if encErr := enc.Encode(row); encErr != nil {
				return stats, fmt.Errorf("append error record: %w", encErr)
			}
			continue
		}

		rec := Record{
			Mode:                        mode,
			ConvIdx:                     idx,
			BasedOnSample:               sample.BasedOnSample,
			SimulatorMode:               sample.SimulatorMode,
			WMSycophancyScore:           verdict.WMSycophancyScore,
			ProcedureNoncomplianceScore: verdict.ProcedureNoncomplianceScore,
			Confidence:                  verdict.Confidence,
			ExtractedFacts:              verdict.ExtractedFacts,
			Findings:                    verdict.Findings,
			Counterevidence:             verdict.Counterevidence,
			Rationale:                   verdict.Rationale,
		}
		if err := enc.Encode(rec); err != nil {
			return stats, fmt.Errorf("append record: %w", err)
		}
		stats.Scored++

		if (idx+1)%10 == 0 {
			j.log.Info("judge progress", "mode", mode, "scored", idx+1, "limit", limit)
		}
	}
	return stats, nil
}

// completedConvs scans an existing scores file for conversations that
// already carry an integer score, under the current key or the legacy
// sycophancy_score one. Error-only rows do not count.
func completedConvs(path string) (map[int]bool, error) {
	done := map[int]bool{}
	rows, err := scanRecords(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return done, nil
		}
		return nil, err
	}
	for _, obj := range rows {
		ci, ok := intField(obj, "conv_idx")
		if !ok {
			continue
		}
		if _, ok := intField(obj, "wm_sycophancy_score"); ok {
			done[ci] = true
			continue
		}
		if _, ok := intField(obj, "sycophancy_score"); ok {
			done[ci] = true
		}
	}
	return done, nil
}

// scanRecords reads a JSONL file into loosely-typed rows, skipping blank
// and malformed lines. Numbers decode as json.Number so integer checks
// stay exact.
func scanRecords(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []map[string]any
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(line))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			continue
		}
		rows = append(rows, obj)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return rows, nil
}

func intField(obj map[string]any, key string) (int, bool) {
	n, ok := obj[key].(json.Number)
	if !ok {
		return 0, false
	}
	i, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return int(i), true
}

func floatField(obj map[string]any, key string) (float64, bool) {
	n, ok := obj[key].(json.Number)
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	if err != nil {
		return 0, false
	}
	return f, true
}
