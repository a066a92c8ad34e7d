package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := Default()
	cfg.SampleDataPath = "seeds.json"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad provider", func(c *Config) { c.Provider = "cohere" }, "invalid provider"},
		{"bad mode", func(c *Config) { c.SimulatorMode = "lenient" }, "invalid simulator_mode"},
		{"azure needs endpoint", func(c *Config) { c.Provider = "azure" }, "azure.endpoint"},
		{"azure with endpoint", func(c *Config) {
			c.Provider = "azure"
			c.Azure.Endpoint = "https://example.openai.azure.com"
		}, ""},
		{"missing sample path", func(c *Config) { c.SampleDataPath = " " }, "sample_data_path"},
		{"negative target", func(c *Config) { c.Generation.TargetCount = -1 }, "target_count"},
		{"negative workers", func(c *Config) { c.Generation.Workers = -2 }, "workers"},
		{"negative delay", func(c *Config) { c.Generation.RateLimitDelay = -0.5 }, "rate_limit_delay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestModelByProvider(t *testing.T) {
	cfg := Default()
	cfg.OpenAI.Model = "gpt-4o"
	cfg.Azure.Deployment = "gpt-4o-azure"
	cfg.Bedrock.ModelID = "us.anthropic.claude-sonnet-4-20250514-v1:0"
	cfg.Anthropic.Model = "claude-sonnet-4-20250514"
	cfg.Google.Model = "gemini-2.0-flash"

	tests := []struct {
		provider string
		want     string
	}{
		{"openai", "gpt-4o"},
		{"azure", "gpt-4o-azure"},
		{"bedrock", "us.anthropic.claude-sonnet-4-20250514-v1:0"},
		{"anthropic", "claude-sonnet-4-20250514"},
		{"google", "gemini-2.0-flash"},
	}
	for _, tt := range tests {
		cfg.Provider = tt.provider
		if got := cfg.Model(); got != tt.want {
			t.Errorf("Model() with provider %s = %q, want %q", tt.provider, got, tt.want)
		}
	}
}

func TestFingerprintStability(t *testing.T) {
	cfg := validConfig()
	fp := cfg.Fingerprint()
	if len(fp) != 8 {
		t.Fatalf("Fingerprint() length = %d, want 8", len(fp))
	}
	if fp != cfg.Fingerprint() {
		t.Error("fingerprint must be deterministic")
	}

	// Settings outside the key set must not move the fingerprint.
	other := validConfig()
	other.Generation.Workers = 2
	other.Output.File = "elsewhere.json"
	if other.Fingerprint() != fp {
		t.Error("workers and output file must not affect the fingerprint")
	}

	mutations := []func(*Config){
		func(c *Config) { c.Generation.MaxTokens = 4000 },
		func(c *Config) { c.Generation.Temperature = 0.2 },
		func(c *Config) { c.OpenAI.Model = "gpt-4o-mini" },
		func(c *Config) { c.SampleDataPath = "other_seeds.json" },
		func(c *Config) { c.SimulatorMode = "sycophantic" },
	}
	for i, mutate := range mutations {
		changed := validConfig()
		mutate(changed)
		if changed.Fingerprint() == fp {
			t.Errorf("mutation %d must change the fingerprint", i)
		}
	}
}

func TestPaths(t *testing.T) {
	cfg := Default()
	cfg.Output.Dir = "out"
	cfg.Output.File = "convs.json"
	cfg.CallLog.File = "calls.jsonl"
	if got := cfg.OutputPath(); got != "out/convs.json" {
		t.Errorf("OutputPath() = %q, want out/convs.json", got)
	}
	if got := cfg.CallLogPath(); got != "out/calls.jsonl" {
		t.Errorf("CallLogPath() = %q, want out/calls.jsonl", got)
	}
}

func TestExpandTimestamp(t *testing.T) {
	at := time.Date(2025, 3, 9, 14, 30, 5, 0, time.UTC)
	got := ExpandTimestamp("run_{timestamp}.json", at)
	if got != "run_20250309_143005.json" {
		t.Errorf("ExpandTimestamp() = %q, want run_20250309_143005.json", got)
	}
	if got := ExpandTimestamp("plain.json", at); got != "plain.json" {
		t.Errorf("ExpandTimestamp() without placeholder = %q, want unchanged", got)
	}
}

func TestPacingDelay(t *testing.T) {
	g := GenerationConfig{RateLimitDelay: 0.1}
	if got := g.PacingDelay(); got != 100*time.Millisecond {
		t.Errorf("PacingDelay() = %v, want 100ms", got)
	}
	g = GenerationConfig{TimeoutSeconds: 30}
	if got := g.CallTimeout(); got != 30*time.Second {
		t.Errorf("CallTimeout() = %v, want 30s", got)
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	for _, want := range []string{"sample_data_path", "simulator_mode", "target_count"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("schema missing %q", want)
		}
	}
}
