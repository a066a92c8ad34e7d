package judge

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
)

// ScoreSummary describes the distribution of one 0-100 score column.
// Empty inputs marshal as {"count": 0} with no statistics.
type ScoreSummary struct {
	Count     int
	Mean      float64
	Median    float64
	Min       int
	Max       int
	P10       float64
	P25       float64
	P50       float64
	P75       float64
	P90       float64
	Histogram map[string]int
}

// MarshalJSON emits the statistics only when at least one score was
// collected, keeping the wire shape stable across empty modes.
func (s ScoreSummary) MarshalJSON() ([]byte, error) {
	if s.Count == 0 {
		return []byte(`{"count":0}`), nil
	}
	type full struct {
		Count     int            `json:"count"`
		Mean      float64        `json:"mean"`
		Median    float64        `json:"median"`
		Min       int            `json:"min"`
		Max       int            `json:"max"`
		P10       float64        `json:"p10"`
		P25       float64        `json:"p25"`
		P50       float64        `json:"p50"`
		P75       float64        `json:"p75"`
		P90       float64        `json:"p90"`
		Histogram map[string]int `json:"histogram_10pt"`
	}
	return json.Marshal(full(s))
}

// ConfidenceSummary reports the evaluator's self-assessed confidence.
// Mean and Median are null when no confidences were collected.
type ConfidenceSummary struct {
	Count  int      `json:"count"`
	Mean   *float64 `json:"mean"`
	Median *float64 `json:"median"`
}

// ModeSummary is one simulator mode's block in the summary document.
type ModeSummary struct {
	WMSycophancyScore           ScoreSummary      `json:"wm_sycophancy_score"`
	ProcedureNoncomplianceScore ScoreSummary      `json:"procedure_noncompliance_score"`
	Confidence                  ConfidenceSummary `json:"confidence"`
	CorrelationWithLocalScore   *float64          `json:"correlation_with_local_score,omitempty"`
}

// Summary is the aggregate document written once per judge run.
type Summary struct {
	EvaluatorModel string                 `json:"evaluator_model"`
	Modes          map[string]ModeSummary `json:"modes"`
}

// SummarizeScores computes the nearest-rank percentile spread and decade
// histogram of one score column. The rank round-half-to-even, and 100
// landing in its own "100-109" bucket, match the established score-file
// consumers.
func SummarizeScores(scores []int) ScoreSummary {
	if len(scores) == 0 {
		return ScoreSummary{}
	}
	sorted := append([]int(nil), scores...)
	sort.Ints(sorted)

	pct := func(p float64) float64 {
		k := int(math.RoundToEven(p * float64(len(sorted))))
		if k < 1 {
			k = 1
		}
		if k > len(sorted) {
			k = len(sorted)
		}
		return float64(sorted[k-1])
	}

	hist := map[string]int{}
	sum := 0
	for _, sc := range scores {
		lo := (sc / 10) * 10
		hist[fmt.Sprintf("%02d-%02d", lo, lo+9)]++
		sum += sc
	}

	return ScoreSummary{
		Count:     len(scores),
		Mean:      float64(sum) / float64(len(scores)),
		Median:    medianInts(sorted),
		Min:       sorted[0],
		Max:       sorted[len(sorted)-1],
		P10:       pct(0.10),
		P25:       pct(0.25),
		P50:       pct(0.50),
		P75:       pct(0.75),
		P90:       pct(0.90),
		Histogram: hist,
	}
}

func summarizeConfidence(confs []float64) ConfidenceSummary {
	out := ConfidenceSummary{Count: len(confs)}
	if len(confs) == 0 {
		return out
	}
	sum := 0.0
	for _, c := range confs {
		sum += c
	}
	mean := sum / float64(len(confs))
	median := medianFloats(confs)
	out.Mean = &mean
	out.Median = &median
	return out
}

// medianInts takes an already-sorted slice.
func medianInts(sorted []int) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return (float64(sorted[n/2-1]) + float64(sorted[n/2])) / 2
}

func medianFloats(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// latestRecords keeps the newest JSONL row per conv_idx, error rows
// included.
func latestRecords(path string) (map[int]map[string]any, error) {
	rows, err := scanRecords(path)
	if err != nil {
		return nil, err
	}
	latest := map[int]map[string]any{}
	for _, obj := range rows {
		if ci, ok := intField(obj, "conv_idx"); ok {
			latest[ci] = obj
		}
	}
	return latest, nil
}

// LatestByConvIdx reads a per-mode scores file, deduplicates by conv_idx
// keeping the newest record, and returns the integer scores under key
// plus the confidences, both ordered by conv_idx. Records without an
// integer under key fall back to the legacy sycophancy_score field.
func LatestByConvIdx(path, key string) (scores []int, confs []float64, distinct int, err error) {
	latest, err := latestRecords(path)
	if err != nil {
		return nil, nil, 0, err
	}
	for _, ci := range sortedIntKeys(latest) {
		obj := latest[ci]
		sc, ok := intField(obj, key)
		if !ok {
			sc, ok = intField(obj, "sycophancy_score")
		}
		if ok {
			scores = append(scores, sc)
		}
		if cf, ok := floatField(obj, "confidence"); ok {
			confs = append(confs, cf)
		}
	}
	return scores, confs, len(latest), nil
}

// LatestScoreMap returns conv_idx to score for the newest record of each
// conversation, with the same legacy-key fallback as LatestByConvIdx.
func LatestScoreMap(path, key string) (map[int]int, error) {
	latest, err := latestRecords(path)
	if err != nil {
		return nil, err
	}
	out := map[int]int{}
	for ci, obj := range latest {
		sc, ok := intField(obj, key)
		if !ok {
			sc, ok = intField(obj, "sycophancy_score")
		}
		if ok {
			out[ci] = sc
		}
	}
	return out, nil
}

// SummarizeFile rebuilds one mode's summary block from its scores file.
// When localScores is non-nil the Pearson correlation against the local
// rule-based scorer is attached.
func SummarizeFile(path string, localScores map[int]int) (ModeSummary, error) {
	wm, confs, _, err := LatestByConvIdx(path, "wm_sycophancy_score")
	if err != nil {
		return ModeSummary{}, err
	}
	proc, _, _, err := LatestByConvIdx(path, "procedure_noncompliance_score")
	if err != nil {
		return ModeSummary{}, err
	}

	ms := ModeSummary{
		WMSycophancyScore:           SummarizeScores(wm),
		ProcedureNoncomplianceScore: SummarizeScores(proc),
		Confidence:                  summarizeConfidence(confs),
	}
	if localScores != nil {
		judgeScores, err := LatestScoreMap(path, "wm_sycophancy_score")
		if err != nil {
			return ModeSummary{}, err
		}
		if r, ok := Correlation(judgeScores, localScores); ok {
			ms.CorrelationWithLocalScore = &r
		}
	}
	return ms, nil
}

// Correlation computes the Pearson coefficient between judge and local
// scores over the conversations present in both maps. ok is false with
// fewer than two shared conversations or zero variance on either side.
func Correlation(judge, local map[int]int) (float64, bool) {
	var xs, ys []float64
	for _, ci := range sortedIntKeys(judge) {
		ls, found := local[ci]
		if !found {
			continue
		}
		xs = append(xs, float64(judge[ci]))
		ys = append(ys, float64(ls))
	}
	if len(xs) < 2 {
		return 0, false
	}

	n := float64(len(xs))
	var sumX, sumY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/n, sumY/n

	var cov, varX, varY float64
	for i := range xs {
		dx, dy := xs[i]-meanX, ys[i]-meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0, false
	}
	return cov / math.Sqrt(varX*varY), true
}

// ScoresPath names the per-mode scores file,
// sycophancy_llm_scores_<version>_<mode>_<tag>.jsonl.
func ScoresPath(dir, version, mode, tag string) string {
	return filepath.Join(dir, fmt.Sprintf("sycophancy_llm_scores_%s_%s_%s.jsonl", version, mode, tag))
}

// SummaryPath names the aggregate summary document. Single-mode runs get
// the mode infixed so they do not clobber the all-modes document.
func SummaryPath(dir, version, mode, tag string) string {
	if mode == "" || mode == "all" {
		return filepath.Join(dir, fmt.Sprintf("sycophancy_llm_summary_%s_%s.json", version, tag))
	}
	return filepath.Join(dir, fmt.Sprintf("sycophancy_llm_summary_%s_%s_%s.json", version, mode, tag))
}

// WriteSummary writes the aggregate document, indented for reading.
func WriteSummary(path string, s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

func sortedIntKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
