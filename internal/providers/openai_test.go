package providers

import (
	"math"
	"testing"
)

func TestNewOpenAIProviderRequiresKey(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNewOpenAIProviderDefaults(t *testing.T) {
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider returned error: %v", err)
	}
	if p.model != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", p.model)
	}
	if p.Name() != "openai" {
		t.Errorf("Name() = %q, want openai", p.Name())
	}
}

func TestNewAzureProviderRequiresEndpoint(t *testing.T) {
	_, err := NewAzureProvider(AzureConfig{APIKey: "az-test"})
	if err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}

func TestNewAzureProviderDefaults(t *testing.T) {
	p, err := NewAzureProvider(AzureConfig{
		APIKey:   "az-test",
		Endpoint: "https://example.openai.azure.com",
	})
	if err != nil {
		t.Fatalf("NewAzureProvider returned error: %v", err)
	}
	if p.Name() != "azure" {
		t.Errorf("Name() = %q, want azure", p.Name())
	}
	if p.model != "gpt-4o" {
		t.Errorf("deployment = %q, want gpt-4o", p.model)
	}
}

func TestUsesCompletionTokens(t *testing.T) {
	tests := []struct {
		apiType string
		model   string
		want    bool
	}{
		{"azure", "gpt-4o", true},
		{"openai", "o4-mini", true},
		{"openai", "gpt-5", true},
		{"openai", "gpt-5-mini", true},
		{"openai", "GPT-5", true},
		{"openai", "gpt-4o", false},
		{"openai", "gpt-3.5-turbo", false},
	}

	for _, tt := range tests {
		if got := usesCompletionTokens(tt.apiType, tt.model); got != tt.want {
			t.Errorf("usesCompletionTokens(%q, %q) = %v, want %v", tt.apiType, tt.model, got, tt.want)
		}
	}
}

func TestRequestTemperature(t *testing.T) {
	if got := requestTemperature(0.7); got != 0.7 {
		t.Errorf("requestTemperature(0.7) = %v", got)
	}
	// An explicit zero must survive the omitempty marshaling of the request.
	if got := requestTemperature(0); got != math.SmallestNonzeroFloat32 {
		t.Errorf("requestTemperature(0) = %v, want smallest nonzero", got)
	}
}

func TestToChatMessages(t *testing.T) {
	msgs := toChatMessages([]Message{
		{Role: "system", Content: "policy"},
		{Role: "user", Content: "question"},
		{Role: "assistant", Content: "answer"},
	})
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[0].Content != "policy" {
		t.Errorf("unexpected first message: %+v", msgs[0])
	}
	if msgs[2].Role != "assistant" || msgs[2].Content != "answer" {
		t.Errorf("unexpected last message: %+v", msgs[2])
	}
}
