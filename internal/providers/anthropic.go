package providers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/tauforge/internal/retry"
)

// AnthropicConfig configures the Anthropic backend.
type AnthropicConfig struct {
	// APIKey authenticates against the Anthropic API (required).
	APIKey string

	// BaseURL overrides the default API base URL.
	BaseURL string

	// Model is the model requests are sent to
	// (default: claude-sonnet-4-20250514).
	Model string
}

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	client   anthropic.Client
	model    string
	retryCfg retry.Config
}

// NewAnthropicProvider creates the Anthropic backend.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:   anthropic.NewClient(options...),
		model:    cfg.Model,
		retryCfg: retry.Exponential(defaultMaxRetries, defaultRetryDelay, maxRetryDelay),
	}, nil
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete sends a non-streaming Messages request and concatenates the text
// blocks of the reply.
func (p *AnthropicProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	system, rest := splitSystem(req.Messages)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		Messages:    toAnthropicMessages(rest),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(req.Temperature)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	start := time.Now()
	msg, result := retry.DoWithValue(ctx, p.retryCfg, func() (*anthropic.Message, error) {
		msg, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return nil, p.classify(err)
		}
		return msg, nil
	})
	if result.Err != nil {
		return nil, completionFailed(result.Err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	out := &Response{
		Text:    sb.String(),
		Elapsed: time.Since(start),
	}
	if msg.Usage.InputTokens > 0 || msg.Usage.OutputTokens > 0 {
		out.Usage = &TokenUsage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		}
	}
	return out, nil
}

func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

// classify wraps an API error for retry gating; dropped connections count as
// transient alongside the generic retryable reasons.
func (p *AnthropicProvider) classify(err error) error {
	perr := NewProviderError("anthropic", p.model, err)
	if connectionRetryable(err) || perr.Reason.IsRetryable() {
		return perr
	}
	return retry.Permanent(perr)
}
