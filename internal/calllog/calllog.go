// Package calllog records every LLM call as one JSONL line so a run can be
// audited or re-scored after the fact. The first line of a fresh file is a
// header identifying the backend; every later line is a call record. Writers
// are serialized by a single mutex and each record is written fully,
// newline-terminated, before the lock is released.
package calllog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxLineSize bounds the scanner buffer; prompts routinely exceed the
// bufio default of 64 KiB.
const maxLineSize = 16 * 1024 * 1024

// Backend identifies the API endpoint the log's records were produced
// against. Only the fields relevant to the provider are set.
type Backend struct {
	APIType    string `json:"api_type"`
	Model      string `json:"model"`
	APIVersion string `json:"api_version,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
	Region     string `json:"region,omitempty"`
}

type headerConfig struct {
	Backend
	RunID string `json:"run_id"`
}

type header struct {
	LogType   string       `json:"log_type"`
	CreatedAt string       `json:"created_at"`
	Config    headerConfig `json:"config"`
}

// TokenUsage mirrors the provider usage counts in the on-disk record.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// Call describes one LLM call to be recorded. Err nil means the call
// succeeded.
type Call struct {
	SampleID string
	Attempt  int
	Duration time.Duration
	Tokens   *TokenUsage
	Metadata map[string]any
	Prompt   string
	Response string
	Err      error
}

type record struct {
	Timestamp       string         `json:"timestamp"`
	SampleID        string         `json:"sample_id"`
	Attempt         int            `json:"attempt"`
	DurationSeconds float64        `json:"duration_seconds"`
	TokensUsed      *TokenUsage    `json:"tokens_used"`
	Metadata        map[string]any `json:"metadata"`
	Prompt          string         `json:"prompt"`
	Response        string         `json:"response"`
	Error           *string        `json:"error"`
	Success         bool           `json:"success"`
}

// Log is the append-only JSONL call log. A disabled Log accepts records
// and drops them.
type Log struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	enabled bool
	runID   string
	now     func() time.Time
}

// Open prepares the log at path, writing the header line if the file does
// not exist yet. Appending to an existing file keeps its original header,
// which is what a resumed run wants.
func Open(path string, enabled bool, backend Backend) (*Log, error) {
	l := &Log{
		path:    path,
		enabled: enabled,
		runID:   uuid.NewString(),
		now:     time.Now,
	}
	if !enabled {
		return l, nil
	}

	if err := l.writeHeader(backend); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open call log: %w", err)
	}
	l.file = f
	return l, nil
}

// ForFile returns a read-only view of an existing log file for Stats and
// ExportSummary. Record calls on it are dropped.
func ForFile(path string) *Log {
	return &Log{path: path, now: time.Now}
}

// writeHeader creates the file with its header line. O_EXCL makes creation
// race-free; an existing file is left untouched.
func (l *Log) writeHeader(backend Backend) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("failed to create call log: %w", err)
	}
	defer f.Close()

	h := header{
		LogType:   "gpt_outputs",
		CreatedAt: l.now().Format(time.RFC3339),
		Config:    headerConfig{Backend: backend, RunID: l.runID},
	}
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write call log header: %w", err)
	}
	return nil
}

// Path returns the log file path.
func (l *Log) Path() string {
	return l.path
}

// RunID returns the identifier stamped into the header when this Log
// created the file.
func (l *Log) RunID() string {
	return l.runID
}

// Record appends one call record. Missing attempt numbers default to 1 and
// missing token usage is recorded as an empty object.
func (l *Log) Record(call Call) error {
	if !l.enabled {
		return nil
	}

	if call.Attempt <= 0 {
		call.Attempt = 1
	}
	tokens := call.Tokens
	if tokens == nil {
		tokens = &TokenUsage{}
	}
	metadata := call.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	var errText *string
	if call.Err != nil {
		s := call.Err.Error()
		errText = &s
	}

	rec := record{
		Timestamp:       l.now().Format(time.RFC3339Nano),
		SampleID:        call.SampleID,
		Attempt:         call.Attempt,
		DurationSeconds: call.Duration.Seconds(),
		TokensUsed:      tokens,
		Metadata:        metadata,
		Prompt:          call.Prompt,
		Response:        call.Response,
		Error:           errText,
		Success:         call.Err == nil,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode call record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("call log is not open")
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append call record: %w", err)
	}
	return nil
}

// Close releases the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Stats summarizes the records in a call log file.
type Stats struct {
	TotalCalls      int      `json:"total_calls"`
	SuccessfulCalls int      `json:"successful_calls"`
	FailedCalls     int      `json:"failed_calls"`
	SuccessRate     float64  `json:"success_rate"`
	RetryAttempts   int      `json:"retry_attempts"`
	TotalDuration   float64  `json:"total_duration"`
	AvgDuration     float64  `json:"avg_duration"`
	TotalTokens     int      `json:"total_tokens"`
	UniqueSamples   int      `json:"unique_samples"`
	Errors          []string `json:"errors"`
}

// TopErrors returns the most frequent error strings with their counts,
// most frequent first, at most n entries.
func (s Stats) TopErrors(n int) []ErrorCount {
	counts := make(map[string]int, len(s.Errors))
	for _, e := range s.Errors {
		counts[e]++
	}
	out := make([]ErrorCount, 0, len(counts))
	for e, c := range counts {
		out = append(out, ErrorCount{Error: e, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Error < out[j].Error
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// ErrorCount pairs an error string with its occurrence count.
type ErrorCount struct {
	Error string `json:"error"`
	Count int    `json:"count"`
}

// Stats scans the log file and aggregates per-call statistics. Header and
// malformed lines are skipped. A missing file yields zero stats.
func (l *Log) Stats() (*Stats, error) {
	stats := &Stats{Errors: []string{}}
	samples := map[string]struct{}{}

	err := l.scan(func(rec record) {
		stats.TotalCalls++
		if rec.Success {
			stats.SuccessfulCalls++
		} else {
			stats.FailedCalls++
			if rec.Error != nil && *rec.Error != "" {
				stats.Errors = append(stats.Errors, *rec.Error)
			}
		}
		stats.TotalDuration += rec.DurationSeconds
		if rec.TokensUsed != nil {
			stats.TotalTokens += rec.TokensUsed.TotalTokens
		}
		if rec.Attempt > 1 {
			stats.RetryAttempts++
		}
		if rec.SampleID != "" && rec.SampleID != "unknown" {
			samples[rec.SampleID] = struct{}{}
		}
	})
	if err != nil {
		return nil, err
	}

	stats.UniqueSamples = len(samples)
	if stats.TotalCalls > 0 {
		stats.AvgDuration = stats.TotalDuration / float64(stats.TotalCalls)
		stats.SuccessRate = float64(stats.SuccessfulCalls) / float64(stats.TotalCalls)
	}
	return stats, nil
}

type summaryEntry struct {
	Timestamp       string      `json:"timestamp"`
	SampleID        string      `json:"sample_id"`
	Attempt         int         `json:"attempt"`
	DurationSeconds float64     `json:"duration_seconds"`
	TokensUsed      *TokenUsage `json:"tokens_used"`
	Success         bool        `json:"success"`
	Error           *string     `json:"error"`
	PromptLength    int         `json:"prompt_length"`
	ResponseLength  int         `json:"response_length"`
}

type summary struct {
	GeneratedAt     string         `json:"generated_at"`
	LogFile         string         `json:"log_file"`
	Statistics      *Stats         `json:"statistics"`
	DetailedEntries []summaryEntry `json:"detailed_entries"`
}

// ExportSummary writes a JSON digest of the log: aggregate statistics plus
// one entry per record carrying prompt/response lengths instead of bodies.
// An empty outPath derives `<log>_summary.json` next to the log file.
func (l *Log) ExportSummary(outPath string) (string, error) {
	if outPath == "" {
		outPath = strings.TrimSuffix(l.path, ".jsonl") + "_summary.json"
	}

	stats, err := l.Stats()
	if err != nil {
		return "", err
	}

	entries := []summaryEntry{}
	err = l.scan(func(rec record) {
		entries = append(entries, summaryEntry{
			Timestamp:       rec.Timestamp,
			SampleID:        rec.SampleID,
			Attempt:         rec.Attempt,
			DurationSeconds: rec.DurationSeconds,
			TokensUsed:      rec.TokensUsed,
			Success:         rec.Success,
			Error:           rec.Error,
			PromptLength:    len(rec.Prompt),
			ResponseLength:  len(rec.Response),
		})
	})
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(summary{
		GeneratedAt:     l.now().Format(time.RFC3339),
		LogFile:         l.path,
		Statistics:      stats,
		DetailedEntries: entries,
	}, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write log summary: %w", err)
	}
	return outPath, nil
}

// scan walks every record line in the file, skipping the header and lines
// that do not parse. A missing file is not an error.
func (l *Log) scan(fn func(record)) error {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read call log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var probe struct {
			LogType string `json:"log_type"`
			record
		}
		if err := json.Unmarshal([]byte(line), &probe); err != nil {
			continue
		}
		if probe.LogType == "gpt_outputs" {
			continue
		}
		fn(probe.record)
	}
	return scanner.Err()
}
