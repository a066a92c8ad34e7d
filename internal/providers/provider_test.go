package providers

import (
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/tauforge/internal/config"
)

func TestNewSelectsBackendByProvider(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("GEMINI_API_KEY", "gm-test")

	tests := []struct {
		provider string
		wantName string
	}{
		{"openai", "openai"},
		{"anthropic", "anthropic"},
		{"google", "google"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := config.Default()
			cfg.Provider = tt.provider

			completer, err := New(cfg)
			if err != nil {
				t.Fatalf("New(%s) returned error: %v", tt.provider, err)
			}
			if completer.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", completer.Name(), tt.wantName)
			}
		})
	}
}

func TestNewAzureRequiresEndpoint(t *testing.T) {
	t.Setenv("AZURE_OPENAI_API_KEY", "az-test")

	cfg := config.Default()
	cfg.Provider = "azure"
	cfg.Azure.Endpoint = ""

	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for azure without endpoint")
	}

	cfg.Azure.Endpoint = "https://example.openai.azure.com"
	completer, err := New(cfg)
	if err != nil {
		t.Fatalf("New(azure) returned error: %v", err)
	}
	if completer.Name() != "azure" {
		t.Errorf("Name() = %q, want azure", completer.Name())
	}
}

func TestNewBedrockUsesConfiguredRegion(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIATEST")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")

	cfg := config.Default()
	cfg.Provider = "bedrock"
	cfg.Bedrock.Region = "us-west-2"

	completer, err := New(cfg)
	if err != nil {
		t.Fatalf("New(bedrock) returned error: %v", err)
	}
	if completer.Name() != "bedrock" {
		t.Errorf("Name() = %q, want bedrock", completer.Name())
	}
	bp, ok := completer.(*BedrockProvider)
	if !ok {
		t.Fatalf("expected *BedrockProvider, got %T", completer)
	}
	if bp.region != "us-west-2" {
		t.Errorf("region = %q, want us-west-2", bp.region)
	}
}

func TestNewUnknownProvider(t *testing.T) {
	cfg := config.Default()
	cfg.Provider = "watsonx"

	_, err := New(cfg)
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if !strings.Contains(err.Error(), "watsonx") {
		t.Errorf("error %q should name the provider", err.Error())
	}
}

func TestNewMissingCredentials(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	cfg := config.Default()
	cfg.Provider = "openai"
	cfg.OpenAI.APIKey = ""

	if _, err := New(cfg); err == nil {
		t.Fatal("expected error when no API key is available")
	}
}

func TestNewPrefersEnvironmentKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("OPENAI_MODEL", "gpt-5-mini")

	cfg := config.Default()
	cfg.Provider = "openai"
	cfg.OpenAI.APIKey = "sk-file"
	cfg.OpenAI.Model = "gpt-4o"

	completer, err := New(cfg)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	op, ok := completer.(*OpenAIProvider)
	if !ok {
		t.Fatalf("expected *OpenAIProvider, got %T", completer)
	}
	if op.model != "gpt-5-mini" {
		t.Errorf("model = %q, want env override gpt-5-mini", op.model)
	}
}

func TestSplitSystem(t *testing.T) {
	system, rest := splitSystem([]Message{
		{Role: "system", Content: "You are a support agent."},
		{Role: "user", Content: "hello"},
		{Role: "system", Content: "Follow the policy."},
		{Role: "assistant", Content: "hi"},
	})

	if system != "You are a support agent.\n\nFollow the policy." {
		t.Errorf("unexpected system text: %q", system)
	}
	if len(rest) != 2 {
		t.Fatalf("expected 2 remaining messages, got %d", len(rest))
	}
	if rest[0].Role != "user" || rest[1].Role != "assistant" {
		t.Errorf("unexpected remaining roles: %s, %s", rest[0].Role, rest[1].Role)
	}
}

func TestSplitSystemNoSystem(t *testing.T) {
	system, rest := splitSystem([]Message{{Role: "user", Content: "hi"}})
	if system != "" {
		t.Errorf("expected empty system, got %q", system)
	}
	if len(rest) != 1 {
		t.Errorf("expected 1 message, got %d", len(rest))
	}
}

func TestCompletionFailedMatchesSentinel(t *testing.T) {
	cause := NewProviderError("openai", "gpt-4o", errors.New("rate limit"))
	err := completionFailed(cause)

	if !errors.Is(err, ErrCompletion) {
		t.Error("wrapped error should match ErrCompletion")
	}
	got, ok := GetProviderError(err)
	if !ok {
		t.Fatal("ProviderError should stay reachable through the wrap")
	}
	if got.Reason != FailoverRateLimit {
		t.Errorf("reason = %v, want rate_limit", got.Reason)
	}
}
