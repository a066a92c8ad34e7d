package providers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/haasonsaas/tauforge/internal/retry"
)

// GoogleConfig configures the Google Gemini backend.
type GoogleConfig struct {
	// APIKey authenticates against the Gemini API (required).
	APIKey string

	// Model is the model requests are sent to (default: gemini-2.0-flash).
	Model string
}

// GoogleProvider talks to the Gemini API through the Google Gen AI SDK.
type GoogleProvider struct {
	client   *genai.Client
	model    string
	retryCfg retry.Config
}

// NewGoogleProvider creates the Gemini backend.
func NewGoogleProvider(cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &GoogleProvider{
		client:   client,
		model:    cfg.Model,
		retryCfg: retry.Exponential(defaultMaxRetries, defaultRetryDelay, maxRetryDelay),
	}, nil
}

// Name returns "google".
func (p *GoogleProvider) Name() string {
	return "google"
}

// Complete sends a non-streaming generate-content request.
func (p *GoogleProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	if p.client == nil {
		return nil, NewProviderError("google", p.model, errors.New("client not initialized"))
	}

	system, rest := splitSystem(req.Messages)

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		// #nosec G115 -- bounded by min above
		config.MaxOutputTokens = int32(maxTokens)
	}

	contents := toGeminiContents(rest)

	start := time.Now()
	resp, result := retry.DoWithValue(ctx, p.retryCfg, func() (*genai.GenerateContentResponse, error) {
		resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
		if err != nil {
			return nil, p.classify(err)
		}
		return resp, nil
	})
	if result.Err != nil {
		return nil, completionFailed(result.Err)
	}

	out := &Response{
		Text:    resp.Text(),
		Elapsed: time.Since(start),
	}
	if resp.UsageMetadata != nil && resp.UsageMetadata.TotalTokenCount > 0 {
		out.Usage = &TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

func toGeminiContents(messages []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		role := genai.RoleUser
		if msg.Role == "assistant" {
			role = genai.RoleModel
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}
	return out
}

// classify wraps an API error for retry gating. Gemini reports rate limiting
// as resource exhaustion, and quota wording there means throttling rather
// than billing.
func (p *GoogleProvider) classify(err error) error {
	perr := NewProviderError("google", p.model, err)
	if googleRetryable(err) || connectionRetryable(err) || perr.Reason.IsRetryable() {
		return perr
	}
	return retry.Permanent(perr)
}

func googleRetryable(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "quota")
}
