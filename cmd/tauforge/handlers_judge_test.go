package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/tauforge/internal/judge"
	"github.com/haasonsaas/tauforge/internal/scoring"
)

func TestJudgeSummarizeOnly(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "gen.json")
	writeFixture(t, input, flaggedFixture)

	outdir := filepath.Join(dir, "judged")
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		t.Fatal(err)
	}
	scoresPath := judge.ScoresPath(outdir, "v1", "base", "unit")
	verdicts := `{"conv_idx": 0, "wm_sycophancy_score": 80, "procedure_noncompliance_score": 40, "confidence": 0.9}
{"conv_idx": 1, "wm_sycophancy_score": 20, "procedure_noncompliance_score": 0, "confidence": 0.7}
`
	writeFixture(t, scoresPath, verdicts)

	got, err := execute(t, "judge", "--input", input, "--outdir", outdir, "--tag", "unit", "--summarize-only")
	if err != nil {
		t.Fatalf("judge returned error: %v", err)
	}

	summaryPath := judge.SummaryPath(outdir, "v1", "base", "unit")
	if !strings.Contains(got, "Wrote summary: "+summaryPath) {
		t.Errorf("missing summary line: %q", got)
	}

	data, err := os.ReadFile(summaryPath)
	if err != nil {
		t.Fatalf("summary not written: %v", err)
	}
	var doc struct {
		EvaluatorModel string `json:"evaluator_model"`
		Modes          map[string]struct {
			WM struct {
				Count int     `json:"count"`
				Mean  float64 `json:"mean"`
			} `json:"wm_sycophancy_score"`
		} `json:"modes"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("summary is not JSON: %v", err)
	}
	if doc.EvaluatorModel == "" {
		t.Error("evaluator_model should be set")
	}
	base, ok := doc.Modes["base"]
	if !ok {
		t.Fatalf("summary modes = %v, want base", doc.Modes)
	}
	if base.WM.Count != 2 {
		t.Errorf("wm score count = %d, want 2", base.WM.Count)
	}
	if base.WM.Mean != 50 {
		t.Errorf("wm score mean = %g, want 50", base.WM.Mean)
	}
}

func TestJudgeSummaryCorrelation(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "gen.json")
	writeFixture(t, input, flaggedFixture)

	scoresPath := judge.ScoresPath(dir, "v1", "base", "unit")
	verdicts := `{"conv_idx": 0, "wm_sycophancy_score": 80, "confidence": 0.9}
{"conv_idx": 1, "wm_sycophancy_score": 20, "confidence": 0.8}
`
	writeFixture(t, scoresPath, verdicts)

	local := `{"mode": "base", "conv_idx": 0, "score": 80, "kinds": ["schema_forgiveness"]}
{"mode": "base", "conv_idx": 1, "score": 0, "kinds": []}
`
	writeFixture(t, scoring.ConvScoresPath(dir, "base", "unit"), local)

	_, err := execute(t, "judge", "--input", input, "--outdir", dir, "--tag", "unit", "--summarize-only")
	if err != nil {
		t.Fatalf("judge returned error: %v", err)
	}

	data, err := os.ReadFile(judge.SummaryPath(dir, "v1", "base", "unit"))
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Modes map[string]struct {
			Correlation *float64 `json:"correlation_with_local_score"`
		} `json:"modes"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	corr := doc.Modes["base"].Correlation
	if corr == nil {
		t.Fatal("correlation should be attached when local scores exist")
	}
	if *corr < 0.99 {
		t.Errorf("correlation = %g, want ~1 for perfectly aligned scorers", *corr)
	}
}

func TestJudgeSummarizeOnlyMissingVerdicts(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "gen.json")
	writeFixture(t, input, flaggedFixture)

	_, err := execute(t, "judge", "--input", input, "--outdir", dir, "--tag", "unit", "--summarize-only")
	if err == nil {
		t.Fatal("expected an error when the verdict file is absent")
	}
	if !strings.Contains(err.Error(), "summarizing") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestJudgeRejectsDuplicateModes(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "gen.json")
	writeFixture(t, input, flaggedFixture)
	writeFixture(t, judge.ScoresPath(dir, "v1", "base", "unit"),
		`{"conv_idx": 0, "wm_sycophancy_score": 10}`+"\n")

	_, err := execute(t, "judge", "--input", input, "--input", input,
		"--outdir", dir, "--tag", "unit", "--summarize-only")
	if err == nil {
		t.Fatal("expected duplicate modes to fail")
	}
	if !strings.Contains(err.Error(), "appears twice") {
		t.Errorf("unexpected error: %v", err)
	}
}
