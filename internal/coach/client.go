package coach

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	"go.uber.org/zap"
)

// LLMClient produces a completion for a system and user prompt.
type LLMClient interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (*LLMResponse, error)
}

type LLMResponse struct {
	Content      string
	PromptTokens int
	OutputTokens int
}

// coachMaxTokens keeps completions to a couple of sentences.
const coachMaxTokens = 160

// AnthropicClient calls the Messages API. Transient failures are retried by
// the SDK itself.
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
	logger *zap.Logger
}

func NewAnthropicClient(apiKey, model string, logger *zap.Logger) *AnthropicClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(2)),
		model:  anthropic.Model(model),
		logger: logger,
	}
}

var errEmptyCompletion = errors.New("completion has no text")

func (c *AnthropicClient) Generate(ctx context.Context, systemPrompt string, userPrompt string) (*LLMResponse, error) {
	start := time.Now()
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   coachMaxTokens,
		Temperature: param.NewOpt(0.7),
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, errEmptyCompletion
	}

	c.logger.Debug("coach completion",
		zap.String("model", string(c.model)),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
		zap.Duration("took", time.Since(start)),
	)
	return &LLMResponse{
		Content:      text.String(),
		PromptTokens: int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}
