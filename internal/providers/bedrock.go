package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/haasonsaas/tauforge/internal/retry"
)

// Claude on Bedrock rejects larger maxTokens values on the Converse API.
const bedrockMaxTokens = 16384

// bedrockMaxContinuations bounds how many times a truncated reply is fed
// back for another round.
const bedrockMaxContinuations = 4

// continueInstruction is appended as a user turn when the model stops before
// the dialogue reaches a resolution.
const continueInstruction = "Continue generating the conversation. The issue is not yet resolved. Keep generating HUMAN:, A:, FUNCTION_CALL:, and OBSERVATION: turns until the customer's issue is fully resolved."

// resolutionCues mark a generated dialogue as complete; matched against the
// lowercased accumulated text.
var resolutionCues = []string{
	"is there anything else",
	"anything else i can help",
	"glad i could help",
	"have a great day",
	"goodbye",
	"issue has been resolved",
	"transferred to a human",
	"please hold on",
}

// BedrockConfig configures the AWS Bedrock backend.
type BedrockConfig struct {
	// Region is the AWS region (default: us-east-1).
	Region string

	// ModelID is the Bedrock model identifier
	// (default: us.anthropic.claude-sonnet-4-20250514-v1:0).
	ModelID string

	// AccessKeyID for explicit credentials (optional, uses the default
	// chain if empty).
	AccessKeyID string

	// SecretAccessKey for explicit credentials (optional).
	SecretAccessKey string

	// SessionToken for temporary credentials (optional).
	SessionToken string
}

// BedrockProvider talks to models hosted on AWS Bedrock through the Converse
// API. Claude models there tend to stop early on long multi-turn generation
// jobs, so Complete runs an iterative continuation loop: while the reply has
// no resolution cue, holds fewer than ten dialogue turns, and was not cut off
// by the token limit, the partial text is fed back with a fixed continue
// instruction, up to four extra rounds.
type BedrockProvider struct {
	client   *bedrockruntime.Client
	model    string
	region   string
	retryCfg retry.Config
}

// NewBedrockProvider creates the Bedrock backend. Credentials come from the
// default AWS chain unless explicit keys are configured.
func NewBedrockProvider(cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "us.anthropic.claude-sonnet-4-20250514-v1:0"
	}

	var awsCfg aws.Config
	var err error

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &BedrockProvider{
		client:   bedrockruntime.NewFromConfig(awsCfg),
		model:    cfg.ModelID,
		region:   cfg.Region,
		retryCfg: retry.Exponential(defaultMaxRetries, defaultRetryDelay, maxRetryDelay),
	}, nil
}

// Name returns "bedrock".
func (p *BedrockProvider) Name() string {
	return "bedrock"
}

// Complete sends a Converse request and drives the continuation loop until
// the dialogue resolves or the round budget is spent.
func (p *BedrockProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	if p.client == nil {
		return nil, NewProviderError("bedrock", p.model, errors.New("client not initialized"))
	}

	base, system := toBedrockMessages(req.Messages)

	inferenceConfig := &types.InferenceConfiguration{
		Temperature: aws.Float32(req.Temperature),
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, bedrockMaxTokens)
		// #nosec G115 -- bounded by min above
		inferenceConfig.MaxTokens = aws.Int32(int32(maxTokens))
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(p.model),
		Messages:        base,
		InferenceConfig: inferenceConfig,
	}
	if len(system) > 0 {
		input.System = system
	}

	start := time.Now()
	fullText := ""
	usage := &TokenUsage{}

	for iteration := 0; iteration <= bedrockMaxContinuations; iteration++ {
		out, result := retry.DoWithValue(ctx, p.retryCfg, func() (*bedrockruntime.ConverseOutput, error) {
			out, err := p.client.Converse(ctx, input)
			if err != nil {
				return nil, p.classify(err)
			}
			return out, nil
		})
		if result.Err != nil {
			return nil, completionFailed(result.Err)
		}

		fullText += converseText(out)
		if out.Usage != nil {
			usage.PromptTokens += int(aws.ToInt32(out.Usage.InputTokens))
			usage.CompletionTokens += int(aws.ToInt32(out.Usage.OutputTokens))
			usage.TotalTokens += int(aws.ToInt32(out.Usage.TotalTokens))
		}

		if dialogueResolved(fullText) || countDialogueTurns(fullText) >= 10 ||
			out.StopReason == types.StopReasonMaxTokens {
			break
		}

		if iteration < bedrockMaxContinuations {
			continued := make([]types.Message, 0, len(base)+2)
			continued = append(continued, base...)
			continued = append(continued,
				types.Message{
					Role:    types.ConversationRoleAssistant,
					Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: fullText}},
				},
				types.Message{
					Role:    types.ConversationRoleUser,
					Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: continueInstruction}},
				},
			)
			input.Messages = continued
		}
	}

	out := &Response{
		Text:    fullText,
		Elapsed: time.Since(start),
	}
	if usage.TotalTokens > 0 {
		out.Usage = usage
	}
	return out, nil
}

// toBedrockMessages converts chat turns to Converse format, splitting system
// messages into system content blocks.
func toBedrockMessages(messages []Message) ([]types.Message, []types.SystemContentBlock) {
	out := make([]types.Message, 0, len(messages))
	var system []types.SystemContentBlock

	for _, msg := range messages {
		if msg.Role == "system" {
			system = append(system, &types.SystemContentBlockMemberText{Value: msg.Content})
			continue
		}
		role := types.ConversationRoleUser
		if msg.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: msg.Content}},
		})
	}

	return out, system
}

func converseText(out *bedrockruntime.ConverseOutput) string {
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}
	return sb.String()
}

// dialogueResolved reports whether the accumulated text already reads as a
// finished support conversation.
func dialogueResolved(text string) bool {
	lower := strings.ToLower(text)
	for _, cue := range resolutionCues {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}

var turnPrefixes = []string{"HUMAN:", "H:", "ASSISTANT:", "A:", "FUNCTION_CALL:", "OBSERVATION:"}

func countDialogueTurns(text string) int {
	count := 0
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		for _, prefix := range turnPrefixes {
			if strings.HasPrefix(trimmed, prefix) {
				count++
				break
			}
		}
	}
	return count
}

// classify wraps a Converse error for retry gating. AWS throttling and
// service-availability exceptions are retryable even though their messages
// do not match the generic patterns.
func (p *BedrockProvider) classify(err error) error {
	perr := NewProviderError("bedrock", p.model, err)
	if bedrockRetryable(err) || perr.Reason.IsRetryable() {
		return perr
	}
	return retry.Permanent(perr)
}

// bedrockRetryable reports whether err is an AWS-side throttling or
// availability failure. Converse surfaces these as typed exceptions; other
// SDK errors are matched on the smithy error code.
func bedrockRetryable(err error) bool {
	var throttled *types.ThrottlingException
	var unavailable *types.ServiceUnavailableException
	var notReady *types.ModelNotReadyException
	if errors.As(err, &throttled) || errors.As(err, &unavailable) || errors.As(err, &notReady) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException", "ServiceUnavailableException":
			return true
		}
	}
	return false
}
