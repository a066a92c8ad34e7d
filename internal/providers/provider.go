// Package providers implements the chat-completion backends the generation
// pipeline runs against: OpenAI (plus Azure OpenAI deployments), AWS Bedrock
// via the Converse API, Anthropic, and Google Gemini.
//
// Every backend retries transient failures internally with jittered
// exponential backoff and honors context cancellation. API keys are resolved
// from the environment first, then from the config file, and are never
// written to logs or call records.
package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/haasonsaas/tauforge/internal/config"
)

// Message is one chat turn handed to a backend. Role is "system", "user"
// or "assistant"; backends that model system text separately split it out.
type Message struct {
	Role    string
	Content string
}

// Request describes a single completion call.
type Request struct {
	Messages    []Message
	Temperature float32
	MaxTokens   int

	// ResponseJSON asks the backend to force a JSON-object response.
	// Only the OpenAI-compatible APIs expose such a switch; callers that
	// need strict JSON from the other backends must say so in the prompt.
	ResponseJSON bool
}

// TokenUsage carries token accounting when the backend reports it.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the completed text plus accounting.
type Response struct {
	Text    string
	Usage   *TokenUsage
	Elapsed time.Duration
}

// ChatCompleter is the single-shot completion surface used to generate
// dialogue and to run judge calls.
type ChatCompleter interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// ErrCompletion marks a completion that failed for good, after any
// backend-internal retries were spent.
var ErrCompletion = errors.New("completion failed")

// completionFailed wraps err so callers can match ErrCompletion while the
// classified ProviderError stays reachable through the chain.
func completionFailed(err error) error {
	return fmt.Errorf("%w: %w", ErrCompletion, err)
}

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
	maxRetryDelay     = 30 * time.Second
)

// New constructs the backend named by cfg.Provider.
func New(cfg *config.Config) (ChatCompleter, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  firstNonEmpty(os.Getenv("OPENAI_API_KEY"), cfg.OpenAI.APIKey),
			BaseURL: firstNonEmpty(os.Getenv("OPENAI_BASE_URL"), cfg.OpenAI.BaseURL),
			Model:   firstNonEmpty(os.Getenv("OPENAI_MODEL"), cfg.OpenAI.Model),
		})
	case "azure":
		return NewAzureProvider(AzureConfig{
			APIKey:     firstNonEmpty(os.Getenv("AZURE_OPENAI_API_KEY"), cfg.Azure.APIKey),
			Endpoint:   cfg.Azure.Endpoint,
			APIVersion: cfg.Azure.APIVersion,
			Deployment: cfg.Azure.Deployment,
		})
	case "bedrock":
		return NewBedrockProvider(BedrockConfig{
			Region:  cfg.Bedrock.Region,
			ModelID: cfg.Bedrock.ModelID,
		})
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:  firstNonEmpty(os.Getenv("ANTHROPIC_API_KEY"), cfg.Anthropic.APIKey),
			BaseURL: cfg.Anthropic.BaseURL,
			Model:   cfg.Anthropic.Model,
		})
	case "google":
		return NewGoogleProvider(GoogleConfig{
			APIKey: firstNonEmpty(os.Getenv("GEMINI_API_KEY"), cfg.Google.APIKey),
			Model:  cfg.Google.Model,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// splitSystem separates system messages from the dialogue turns for
// backends that take system text out of band.
func splitSystem(messages []Message) (system string, rest []Message) {
	var systemParts []string
	for _, msg := range messages {
		if msg.Role == "system" {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		rest = append(rest, msg)
	}
	for i, part := range systemParts {
		if i > 0 {
			system += "\n\n"
		}
		system += part
	}
	return system, rest
}
