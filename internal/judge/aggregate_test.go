package judge

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeScoresFile(t *testing.T, path string, lines []string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestSummarizeScoresSpread(t *testing.T) {
	s := SummarizeScores([]int{100, 0, 20, 10})
	if s.Count != 4 {
		t.Errorf("count = %d", s.Count)
	}
	if s.Mean != 32.5 {
		t.Errorf("mean = %v, want 32.5", s.Mean)
	}
	if s.Median != 15 {
		t.Errorf("median = %v, want 15", s.Median)
	}
	if s.Min != 0 || s.Max != 100 {
		t.Errorf("min/max = %d/%d", s.Min, s.Max)
	}
	if s.P10 != 0 || s.P25 != 0 || s.P50 != 10 || s.P75 != 20 || s.P90 != 100 {
		t.Errorf("percentiles = %v %v %v %v %v", s.P10, s.P25, s.P50, s.P75, s.P90)
	}
	wantHist := map[string]int{"00-09": 1, "10-19": 1, "20-29": 1, "100-109": 1}
	if !reflect.DeepEqual(s.Histogram, wantHist) {
		t.Errorf("histogram = %v, want %v", s.Histogram, wantHist)
	}
}

func TestSummarizeScoresHalfEvenRank(t *testing.T) {
	// Ranks land on .5 for n=5 at p50 and p90; ties round to the even
	// rank, not away from zero.
	s := SummarizeScores([]int{0, 10, 20, 30, 40})
	if s.P50 != 10 {
		t.Errorf("p50 = %v, want 10", s.P50)
	}
	if s.P90 != 30 {
		t.Errorf("p90 = %v, want 30", s.P90)
	}
	if s.P10 != 0 {
		t.Errorf("p10 = %v, want 0", s.P10)
	}
	if s.Median != 20 {
		t.Errorf("median = %v, want 20", s.Median)
	}
}

func TestSummarizeScoresSingle(t *testing.T) {
	s := SummarizeScores([]int{100})
	if s.Count != 1 || s.Mean != 100 || s.Median != 100 {
		t.Errorf("summary = %+v", s)
	}
	for _, p := range []float64{s.P10, s.P25, s.P50, s.P75, s.P90} {
		if p != 100 {
			t.Errorf("percentile = %v, want 100", p)
		}
	}
	if got := s.Histogram["100-109"]; got != 1 {
		t.Errorf("histogram = %v", s.Histogram)
	}
}

func TestSummarizeScoresEmptyMarshalsCountOnly(t *testing.T) {
	data, err := json.Marshal(SummarizeScores(nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"count":0}` {
		t.Errorf("empty summary = %s", data)
	}
}

func TestSummarizeConfidence(t *testing.T) {
	empty := summarizeConfidence(nil)
	if empty.Count != 0 || empty.Mean != nil || empty.Median != nil {
		t.Errorf("empty = %+v", empty)
	}

	c := summarizeConfidence([]float64{0.5, 0.7})
	if c.Count != 2 {
		t.Errorf("count = %d", c.Count)
	}
	if c.Mean == nil || math.Abs(*c.Mean-0.6) > 1e-9 {
		t.Errorf("mean = %v, want 0.6", c.Mean)
	}
	if c.Median == nil || math.Abs(*c.Median-0.6) > 1e-9 {
		t.Errorf("median = %v, want 0.6", c.Median)
	}
}

func TestLatestByConvIdx(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scores.jsonl")
	writeScoresFile(t, path, []string{
		`{"conv_idx": 0, "wm_sycophancy_score": 10, "confidence": 0.9}`,
		`{"conv_idx": 1, "sycophancy_score": 50, "confidence": 0.5}`,
		`{"conv_idx": 0, "wm_sycophancy_score": 30, "confidence": 0.7}`,
		`{"conv_idx": 2, "error": "Failed after retries"}`,
		`not json at all`,
		`{"conv_idx": 3, "wm_sycophancy_score": 12.5}`,
	})

	scores, confs, distinct, err := LatestByConvIdx(path, "wm_sycophancy_score")
	if err != nil {
		t.Fatalf("LatestByConvIdx: %v", err)
	}
	if want := []int{30, 50}; !reflect.DeepEqual(scores, want) {
		t.Errorf("scores = %v, want %v", scores, want)
	}
	if want := []float64{0.7, 0.5}; !reflect.DeepEqual(confs, want) {
		t.Errorf("confs = %v, want %v", confs, want)
	}
	if distinct != 4 {
		t.Errorf("distinct = %d, want 4", distinct)
	}
}

func TestLatestScoreMap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scores.jsonl")
	writeScoresFile(t, path, []string{
		`{"conv_idx": 0, "wm_sycophancy_score": 10}`,
		`{"conv_idx": 0, "wm_sycophancy_score": 30}`,
		`{"conv_idx": 1, "sycophancy_score": 50}`,
		`{"conv_idx": 2, "error": "boom"}`,
	})

	got, err := LatestScoreMap(path, "wm_sycophancy_score")
	if err != nil {
		t.Fatalf("LatestScoreMap: %v", err)
	}
	want := map[int]int{0: 30, 1: 50}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("map = %v, want %v", got, want)
	}
}

func TestCorrelation(t *testing.T) {
	judge := map[int]int{0: 0, 1: 50, 2: 100}

	r, ok := Correlation(judge, map[int]int{0: 0, 1: 50, 2: 100})
	if !ok || math.Abs(r-1) > 1e-9 {
		t.Errorf("identical scores: r = %v, ok = %v", r, ok)
	}

	r, ok = Correlation(judge, map[int]int{0: 100, 1: 50, 2: 0})
	if !ok || math.Abs(r+1) > 1e-9 {
		t.Errorf("inverted scores: r = %v, ok = %v", r, ok)
	}

	if _, ok := Correlation(judge, map[int]int{1: 50}); ok {
		t.Error("single shared conversation must not correlate")
	}
	if _, ok := Correlation(map[int]int{0: 50, 1: 50}, map[int]int{0: 10, 1: 90}); ok {
		t.Error("zero variance must not correlate")
	}
	if _, ok := Correlation(judge, map[int]int{9: 1}); ok {
		t.Error("disjoint conversations must not correlate")
	}
}

func TestSummarizeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scores.jsonl")
	writeScoresFile(t, path, []string{
		`{"conv_idx": 0, "wm_sycophancy_score": 0, "procedure_noncompliance_score": 5, "confidence": 0.9}`,
		`{"conv_idx": 1, "wm_sycophancy_score": 20, "procedure_noncompliance_score": 0, "confidence": 0.8}`,
		`{"conv_idx": 2, "wm_sycophancy_score": 40, "procedure_noncompliance_score": 0, "confidence": 0.7}`,
		`{"conv_idx": 3, "wm_sycophancy_score": 100, "procedure_noncompliance_score": 10, "confidence": 0.6}`,
	})

	ms, err := SummarizeFile(path, nil)
	if err != nil {
		t.Fatalf("SummarizeFile: %v", err)
	}
	if ms.WMSycophancyScore.Count != 4 || ms.WMSycophancyScore.Mean != 40 {
		t.Errorf("wm = %+v", ms.WMSycophancyScore)
	}
	if ms.ProcedureNoncomplianceScore.Count != 4 {
		t.Errorf("proc = %+v", ms.ProcedureNoncomplianceScore)
	}
	if ms.Confidence.Count != 4 {
		t.Errorf("confidence = %+v", ms.Confidence)
	}
	if ms.CorrelationWithLocalScore != nil {
		t.Error("correlation must be absent without local scores")
	}

	local := map[int]int{0: 0, 1: 20, 2: 40, 3: 100}
	ms, err = SummarizeFile(path, local)
	if err != nil {
		t.Fatalf("SummarizeFile with local: %v", err)
	}
	if ms.CorrelationWithLocalScore == nil || math.Abs(*ms.CorrelationWithLocalScore-1) > 1e-9 {
		t.Errorf("correlation = %v, want 1", ms.CorrelationWithLocalScore)
	}
}

func TestOutputPaths(t *testing.T) {
	if got := ScoresPath("out", "v2", "base", "hardcase_200"); got != filepath.Join("out", "sycophancy_llm_scores_v2_base_hardcase_200.jsonl") {
		t.Errorf("ScoresPath = %q", got)
	}
	if got := SummaryPath("out", "v2", "all", "hardcase_200"); got != filepath.Join("out", "sycophancy_llm_summary_v2_hardcase_200.json") {
		t.Errorf("SummaryPath all = %q", got)
	}
	if got := SummaryPath("out", "v2", "strict", "hardcase_200"); got != filepath.Join("out", "sycophancy_llm_summary_v2_strict_hardcase_200.json") {
		t.Errorf("SummaryPath single mode = %q", got)
	}
}

func TestWriteSummary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "summary.json")

	s := Summary{
		EvaluatorModel: "gpt-4o",
		Modes: map[string]ModeSummary{
			"base": {
				WMSycophancyScore: SummarizeScores([]int{40}),
				Confidence:        summarizeConfidence([]float64{0.8}),
			},
		},
	}
	if err := WriteSummary(path, s); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, `"evaluator_model": "gpt-4o"`) {
		t.Error("summary missing evaluator_model")
	}
	if !strings.Contains(text, `"count": 0`) {
		t.Error("empty procedure summary must collapse to count only")
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("summary is not JSON: %v", err)
	}
	modes := decoded["modes"].(map[string]any)
	base := modes["base"].(map[string]any)
	wm := base["wm_sycophancy_score"].(map[string]any)
	if wm["count"].(float64) != 1 {
		t.Errorf("wm count = %v", wm["count"])
	}
	if wm["histogram_10pt"].(map[string]any)["40-49"].(float64) != 1 {
		t.Errorf("histogram = %v", wm["histogram_10pt"])
	}
}
