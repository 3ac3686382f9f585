package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"imbi-automations/pkg/config"
)

// ErrBedrockUnsupported is returned when the configuration asks for Bedrock.
var ErrBedrockUnsupported = errors.New("anthropic bedrock transport is not supported")

// AnthropicClient answers one-shot prompts with the Messages API.
//
//nolint:govet // Simple client struct, logical grouping preferred
type AnthropicClient struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicClient creates a client from configuration. Extra options are
// applied after the API key.
func NewAnthropicClient(cfg config.AnthropicConfig, opts ...option.RequestOption) (*AnthropicClient, error) {
	if cfg.Bedrock {
		return nil, ErrBedrockUnsupported
	}
	model := cfg.Model
	if model == "" {
		model = config.DefaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = config.DefaultAnthropicTokens
	}

	requestOpts := make([]option.RequestOption, 0, len(opts)+1)
	if cfg.APIKey != "" {
		requestOpts = append(requestOpts, option.WithAPIKey(cfg.APIKey))
	}
	requestOpts = append(requestOpts, opts...)

	return &AnthropicClient{
		client:    anthropic.NewClient(requestOpts...),
		model:     anthropic.Model(model),
		maxTokens: int64(maxTokens),
	}, nil
}

// Complete sends prompt as a single user message and returns the text reply.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic query failed: %w", err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return "", errors.New("anthropic query returned an empty response")
	}

	var text strings.Builder
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			text.WriteString(resp.Content[i].AsText().Text)
		}
	}
	return text.String(), nil
}
