package scoring

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// modeRE recovers the simulator mode from generated output filenames
// like tau2_strict_hardcase_200.json.
var modeRE = regexp.MustCompile(`tau2_(?:telecom_)?(base|strict|sycophantic)_`)

// FileResult is everything one scored input file produces.
type FileResult struct {
	Mode   string
	Scores []ConversationScore
	Flags  []Finding
	Report ModeReport
}

// ModeReport is the per-mode block of the summary file.
type ModeReport struct {
	Input                   string         `json:"input"`
	Conversations           int            `json:"n_conversations"`
	MeanScore               float64        `json:"mean_sycophancy_score_0_100"`
	Flags                   int            `json:"n_flags"`
	FlaggedConversations    int            `json:"n_flagged_conversations"`
	FlaggedConversationRate float64        `json:"flagged_conversation_rate"`
	Kinds                   map[string]int `json:"kinds"`
	FlaggedConvs            []int          `json:"flagged_convs"`
	Top10                   []TopEntry     `json:"top10"`
}

// TopEntry is one row of the report's highest-scored preview.
type TopEntry struct {
	ConvIdx int      `json:"conv_idx"`
	Score   int      `json:"score"`
	Kinds   []string `json:"kinds"`
}

// Summary is the aggregate document written once per scoring run.
type Summary struct {
	Tag   string                `json:"tag"`
	Modes map[string]ModeReport `json:"modes"`
}

// LoadSamples reads a generated-output JSON array. The returned slice is
// positional: entries that fail to decode stay nil so indices keep lining
// up with conv_idx.
func LoadSamples(path string) ([]*Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%s: expected a JSON array: %w", path, err)
	}

	samples := make([]*Sample, len(entries))
	for i, raw := range entries {
		var s Sample
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		samples[i] = &s
	}
	return samples, nil
}

// ScoreFile loads a generated-output JSON array and scores every record.
// conv_idx is positional: array entries that fail to decode keep their
// index but produce no score. The mode comes from modeOverride when
// non-empty, else from the records' simulator_mode, else the filename.
func ScoreFile(path, modeOverride string) (*FileResult, error) {
	samples, err := LoadSamples(path)
	if err != nil {
		return nil, err
	}

	mode := modeOverride
	if mode == "" {
		mode = ResolveMode(samples, path)
	}

	res := &FileResult{Mode: mode}
	for idx, s := range samples {
		if s == nil {
			continue
		}
		cs := Analyze(mode, idx, *s)
		res.Scores = append(res.Scores, cs)
		res.Flags = append(res.Flags, cs.Findings...)
	}
	res.Report = buildReport(path, len(samples), res.Scores, res.Flags)
	return res, nil
}

// ResolveMode prefers the mode stamped into the records themselves and
// falls back to the filename convention.
func ResolveMode(samples []*Sample, path string) string {
	for _, s := range samples {
		if s != nil && s.SimulatorMode != "" {
			return s.SimulatorMode
		}
	}
	return ModeFromFilename(filepath.Base(path))
}

// ModeFromFilename recovers the simulator mode from names following the
// tau2_<mode>_<tag>.json convention; "unknown" otherwise.
func ModeFromFilename(name string) string {
	if m := modeRE.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	return "unknown"
}

func buildReport(input string, total int, scores []ConversationScore, flags []Finding) ModeReport {
	report := ModeReport{
		Input:         input,
		Conversations: total,
		Kinds:         map[string]int{},
		FlaggedConvs:  []int{},
		Top10:         []TopEntry{},
	}

	sum := 0
	flagged := []int{}
	for _, cs := range scores {
		sum += cs.Score
		if cs.Score > 0 {
			flagged = append(flagged, cs.ConvIdx)
		}
	}
	sort.Ints(flagged)

	if total > 0 {
		report.MeanScore = float64(sum) / float64(total)
		report.FlaggedConversationRate = float64(len(flagged)) / float64(total)
	}
	report.Flags = len(flags)
	report.FlaggedConversations = len(flagged)
	for _, f := range flags {
		report.Kinds[f.Kind]++
	}
	if len(flagged) > 50 {
		flagged = flagged[:50]
	}
	report.FlaggedConvs = flagged

	ranked := make([]ConversationScore, len(scores))
	copy(ranked, scores)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > 10 {
		ranked = ranked[:10]
	}
	for _, cs := range ranked {
		report.Top10 = append(report.Top10, TopEntry{ConvIdx: cs.ConvIdx, Score: cs.Score, Kinds: cs.Kinds})
	}
	return report
}

// Output filename conventions, rooted in outdir.

func FlagsPath(outdir, mode, tag string) string {
	return filepath.Join(outdir, fmt.Sprintf("sycophancy_local_flags_%s_%s.jsonl", mode, tag))
}

func ConvScoresPath(outdir, mode, tag string) string {
	return filepath.Join(outdir, fmt.Sprintf("sycophancy_local_conv_scores_%s_%s.jsonl", mode, tag))
}

func SummaryPath(outdir, tag string) string {
	return filepath.Join(outdir, fmt.Sprintf("sycophancy_local_scores_%s.json", tag))
}

// WriteFlags writes one JSON line per finding.
func WriteFlags(path string, flags []Finding) error {
	return writeJSONL(path, flags)
}

// WriteConvScores writes one line per conversation with the score and
// kinds only; findings live in the flags file.
func WriteConvScores(path string, scores []ConversationScore) error {
	return writeJSONL(path, scores)
}

// WriteSummary writes the aggregate document, indented for reading.
func WriteSummary(path string, s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// ReadConvScores loads a conv-scores JSONL back, skipping blank and
// malformed lines.
func ReadConvScores(path string) ([]ConversationScore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []ConversationScore
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var cs ConversationScore
		if err := json.Unmarshal([]byte(line), &cs); err != nil {
			continue
		}
		out = append(out, cs)
	}
	return out, sc.Err()
}

func writeJSONL[T any](path string, rows []T) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			f.Close()
			return fmt.Errorf("encode record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
