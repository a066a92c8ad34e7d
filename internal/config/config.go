// Package config loads, validates, and fingerprints the pipeline
// configuration. Files may be YAML, JSON, or JSON5, composed with
// $include directives; CLI flags override file values after loading.
package config

import (
	"crypto/md5" // #nosec G501 -- fingerprint for change detection, not security
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration for a tauforge run.
type Config struct {
	// Provider selects the completion backend: openai, azure, bedrock,
	// anthropic, or google.
	Provider string `yaml:"provider"`
	// SimulatorMode shapes the generation prompt: base, strict, or
	// sycophantic.
	SimulatorMode  string `yaml:"simulator_mode"`
	SampleDataPath string `yaml:"sample_data_path"`

	OpenAI    OpenAIConfig    `yaml:"openai"`
	Azure     AzureConfig     `yaml:"azure"`
	Bedrock   BedrockConfig   `yaml:"bedrock"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Google    GoogleConfig    `yaml:"google"`

	Generation GenerationConfig `yaml:"generation"`
	Output     OutputConfig     `yaml:"output"`
	CallLog    CallLogConfig    `yaml:"call_log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// OpenAIConfig also covers OpenAI-compatible endpoints via BaseURL.
// APIKey may come from OPENAI_API_KEY instead of the file.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type AzureConfig struct {
	Endpoint   string `yaml:"endpoint"`
	APIVersion string `yaml:"api_version"`
	Deployment string `yaml:"deployment"`
	APIKey     string `yaml:"api_key"`
}

// BedrockConfig relies on the standard AWS credential chain; only the
// region and model are configured here.
type BedrockConfig struct {
	Region  string `yaml:"region"`
	ModelID string `yaml:"model_id"`
}

type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type GoogleConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// GenerationConfig tunes the generation loop. RateLimitDelay and Timeout
// are in seconds; RateLimitDelay may be fractional.
type GenerationConfig struct {
	TargetCount    int     `yaml:"target_count"`
	Temperature    float32 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	RetryAttempts  int     `yaml:"retry_attempts"`
	Workers        int     `yaml:"workers"`
	BatchSize      int     `yaml:"batch_size"`
	RateLimitDelay float64 `yaml:"rate_limit_delay"`
	TimeoutSeconds int     `yaml:"timeout"`
	SaveProgress   *bool   `yaml:"save_progress"`
}

// PacingDelay is the sleep before each completion call.
func (g GenerationConfig) PacingDelay() time.Duration {
	return time.Duration(g.RateLimitDelay * float64(time.Second))
}

// CallTimeout bounds one completion request.
func (g GenerationConfig) CallTimeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// ProgressEnabled reports whether checkpointing is on. Unset means on.
func (g GenerationConfig) ProgressEnabled() bool {
	return g.SaveProgress == nil || *g.SaveProgress
}

type OutputConfig struct {
	Dir              string `yaml:"dir"`
	File             string `yaml:"file"`
	SaveIntermediate *bool  `yaml:"save_intermediate"`
	BackupExisting   *bool  `yaml:"backup_existing"`
}

// IntermediateEnabled reports whether partial output is written after
// each batch. Unset means on.
func (o OutputConfig) IntermediateEnabled() bool {
	return o.SaveIntermediate == nil || *o.SaveIntermediate
}

// BackupEnabled reports whether an existing output file is backed up
// before being overwritten. Unset means on.
func (o OutputConfig) BackupEnabled() bool {
	return o.BackupExisting == nil || *o.BackupExisting
}

type CallLogConfig struct {
	Enabled *bool  `yaml:"enabled"`
	File    string `yaml:"file"`
}

// LoggingEnabled reports whether per-call records are written. Unset
// means on.
func (c CallLogConfig) LoggingEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// MetricsConfig controls the optional Prometheus listener. Empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a config with every default applied and no credentials.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	if cfg.SimulatorMode == "" {
		cfg.SimulatorMode = "base"
	}
	if cfg.OpenAI.BaseURL == "" {
		cfg.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = "gpt-4o"
	}
	if cfg.Azure.APIVersion == "" {
		cfg.Azure.APIVersion = "2024-08-01-preview"
	}
	if cfg.Azure.Deployment == "" {
		cfg.Azure.Deployment = "gpt-4o"
	}
	if cfg.Bedrock.Region == "" {
		cfg.Bedrock.Region = "us-east-1"
	}
	if cfg.Bedrock.ModelID == "" {
		cfg.Bedrock.ModelID = "us.anthropic.claude-sonnet-4-20250514-v1:0"
	}
	if cfg.Anthropic.Model == "" {
		cfg.Anthropic.Model = "claude-sonnet-4-20250514"
	}
	if cfg.Google.Model == "" {
		cfg.Google.Model = "gemini-2.0-flash"
	}
	if cfg.Generation.TargetCount == 0 {
		cfg.Generation.TargetCount = 100
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = 1
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 1000
	}
	if cfg.Generation.RetryAttempts == 0 {
		cfg.Generation.RetryAttempts = 3
	}
	if cfg.Generation.Workers == 0 {
		cfg.Generation.Workers = 8
	}
	if cfg.Generation.BatchSize == 0 {
		cfg.Generation.BatchSize = 20
	}
	if cfg.Generation.RateLimitDelay == 0 {
		cfg.Generation.RateLimitDelay = 0.1
	}
	if cfg.Generation.TimeoutSeconds == 0 {
		cfg.Generation.TimeoutSeconds = 30
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "."
	}
	if cfg.Output.File == "" {
		cfg.Output.File = "generated_conversations.json"
	}
	if cfg.CallLog.File == "" {
		cfg.CallLog.File = "gpt_outputs.jsonl"
	}
}

var validProviders = map[string]bool{
	"openai":    true,
	"azure":     true,
	"bedrock":   true,
	"anthropic": true,
	"google":    true,
}

var validModes = map[string]bool{
	"base":        true,
	"strict":      true,
	"sycophantic": true,
}

// Validate checks the config after defaults and flag overrides. Provider
// credentials are checked later, at client construction, so env-supplied
// keys still work.
func (c *Config) Validate() error {
	if !validProviders[c.Provider] {
		return fmt.Errorf("invalid provider %q (want openai, azure, bedrock, anthropic, or google)", c.Provider)
	}
	if !validModes[c.SimulatorMode] {
		return fmt.Errorf("invalid simulator_mode %q (want base, strict, or sycophantic)", c.SimulatorMode)
	}
	if c.Provider == "azure" && strings.TrimSpace(c.Azure.Endpoint) == "" {
		return fmt.Errorf("provider azure requires azure.endpoint")
	}
	if strings.TrimSpace(c.SampleDataPath) == "" {
		return fmt.Errorf("sample_data_path is required")
	}
	if c.Generation.TargetCount <= 0 {
		return fmt.Errorf("generation.target_count must be positive, got %d", c.Generation.TargetCount)
	}
	if c.Generation.Workers <= 0 {
		return fmt.Errorf("generation.workers must be positive, got %d", c.Generation.Workers)
	}
	if c.Generation.BatchSize <= 0 {
		return fmt.Errorf("generation.batch_size must be positive, got %d", c.Generation.BatchSize)
	}
	if c.Generation.MaxTokens <= 0 {
		return fmt.Errorf("generation.max_tokens must be positive, got %d", c.Generation.MaxTokens)
	}
	if c.Generation.RetryAttempts <= 0 {
		return fmt.Errorf("generation.retry_attempts must be positive, got %d", c.Generation.RetryAttempts)
	}
	if c.Generation.RateLimitDelay < 0 {
		return fmt.Errorf("generation.rate_limit_delay must not be negative, got %g", c.Generation.RateLimitDelay)
	}
	return nil
}

// Model returns the model identifier active for the configured provider.
func (c *Config) Model() string {
	switch c.Provider {
	case "azure":
		return c.Azure.Deployment
	case "bedrock":
		return c.Bedrock.ModelID
	case "anthropic":
		return c.Anthropic.Model
	case "google":
		return c.Google.Model
	default:
		return c.OpenAI.Model
	}
}

// OutputPath joins the output directory and file name.
func (c *Config) OutputPath() string {
	return filepath.Join(c.Output.Dir, c.Output.File)
}

// CallLogPath joins the output directory and call-log file name.
func (c *Config) CallLogPath() string {
	return filepath.Join(c.Output.Dir, c.CallLog.File)
}

// Fingerprint hashes the settings that invalidate a resume checkpoint:
// generating with a different model, token budget, temperature, corpus,
// or mode must not silently extend an old run. First 8 hex chars of the
// md5 over a sorted-key JSON document.
func (c *Config) Fingerprint() string {
	key := map[string]any{
		"max_tokens":       c.Generation.MaxTokens,
		"model":            c.Model(),
		"sample_data_path": c.SampleDataPath,
		"simulator_mode":   c.SimulatorMode,
		"temperature":      c.Generation.Temperature,
	}
	data, err := json.Marshal(key)
	if err != nil {
		return ""
	}
	sum := md5.Sum(data) // #nosec G401 -- change detection, not security
	return hex.EncodeToString(sum[:])[:8]
}

// ExpandTimestamp substitutes a literal "{timestamp}" in a file name with
// t formatted as YYYYMMDD_HHMMSS. Load applies it once so every consumer
// sees the same resolved name.
func ExpandTimestamp(name string, t time.Time) string {
	return strings.ReplaceAll(name, "{timestamp}", t.Format("20060102_150405"))
}
