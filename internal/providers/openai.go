package providers

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/tauforge/internal/retry"
)

// OpenAIConfig configures the OpenAI backend.
type OpenAIConfig struct {
	// APIKey authenticates against the OpenAI-compatible API (required).
	APIKey string

	// BaseURL overrides the default endpoint (e.g. an OpenRouter URL).
	BaseURL string

	// Model is the model requests are sent to (default: gpt-4o).
	Model string
}

// AzureConfig configures the Azure OpenAI backend.
type AzureConfig struct {
	// APIKey authenticates against the Azure OpenAI resource (required).
	APIKey string

	// Endpoint is the resource endpoint,
	// e.g. https://myresource.openai.azure.com (required).
	Endpoint string

	// APIVersion selects the Azure API version (default: 2024-08-01-preview).
	APIVersion string

	// Deployment is the deployment name requests are routed to (default: gpt-4o).
	Deployment string
}

// OpenAIProvider talks to the OpenAI chat-completions API. The same
// implementation serves Azure OpenAI deployments; only client construction
// and the token-limit parameter differ.
type OpenAIProvider struct {
	client   *openai.Client
	name     string
	model    string
	retryCfg retry.Config
}

// NewOpenAIProvider creates the OpenAI backend.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:   openai.NewClientWithConfig(clientConfig),
		name:     "openai",
		model:    cfg.Model,
		retryCfg: retry.Exponential(defaultMaxRetries, defaultRetryDelay, maxRetryDelay),
	}, nil
}

// NewAzureProvider creates the Azure OpenAI backend.
func NewAzureProvider(cfg AzureConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("azure: API key is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("azure: endpoint is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-08-01-preview"
	}
	if cfg.Deployment == "" {
		cfg.Deployment = "gpt-4o"
	}

	clientConfig := openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
	clientConfig.APIVersion = cfg.APIVersion

	return &OpenAIProvider{
		client:   openai.NewClientWithConfig(clientConfig),
		name:     "azure",
		model:    cfg.Deployment,
		retryCfg: retry.Exponential(defaultMaxRetries, defaultRetryDelay, maxRetryDelay),
	}, nil
}

// Name returns "openai" or "azure".
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Complete sends a non-streaming chat completion and returns the first choice.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	if p.client == nil {
		return nil, NewProviderError(p.name, p.model, errors.New("client not initialized"))
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    toChatMessages(req.Messages),
		Temperature: requestTemperature(req.Temperature),
	}
	if req.ResponseJSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	if req.MaxTokens > 0 {
		if usesCompletionTokens(p.name, p.model) {
			chatReq.MaxCompletionTokens = req.MaxTokens
		} else {
			chatReq.MaxTokens = req.MaxTokens
		}
	}

	start := time.Now()
	resp, result := retry.DoWithValue(ctx, p.retryCfg, func() (openai.ChatCompletionResponse, error) {
		resp, err := p.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return resp, classifiedError(p.name, p.model, err)
		}
		return resp, nil
	})
	if result.Err != nil {
		return nil, completionFailed(result.Err)
	}

	if len(resp.Choices) == 0 {
		return nil, completionFailed(NewProviderError(p.name, p.model, errors.New("no choices in response")))
	}

	out := &Response{
		Text:    resp.Choices[0].Message.Content,
		Elapsed: time.Since(start),
	}
	if resp.Usage.TotalTokens > 0 {
		out.Usage = &TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// usesCompletionTokens reports whether the request must carry
// max_completion_tokens instead of the legacy max_tokens field: all Azure
// deployments plus the o4 and gpt-5 model families.
func usesCompletionTokens(apiType, model string) bool {
	if apiType == "azure" {
		return true
	}
	m := strings.ToLower(model)
	return strings.Contains(m, "o4") || strings.Contains(m, "gpt-5")
}

// requestTemperature maps an explicit zero to the library's sentinel for
// zero; the field is marshaled with omitempty, so a plain 0 would silently
// fall back to the server default.
func requestTemperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

func toChatMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	return out
}

// classifiedError wraps an API error for retry gating: reasons the taxonomy
// marks non-retryable come back as permanent.
func classifiedError(provider, model string, err error) error {
	perr := NewProviderError(provider, model, err)
	if !perr.Reason.IsRetryable() {
		return retry.Permanent(perr)
	}
	return perr
}
