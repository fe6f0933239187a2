package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIConfig configures the OpenAI client.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIClient calls the Chat Completions API.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient creates an OpenAI-backed Client.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: empty api key")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai: empty model")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}, nil
}

func (c *OpenAIClient) Provider() string { return "openai" }

func (c *OpenAIClient) Model() string { return c.model }

// Complete sends one system+user exchange.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       openai.ChatModel(c.model),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("openai chat completion: %w", err)
	}

	// Tokens are billed even when no usable text comes back.
	usage := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		CachedTokens:     resp.Usage.PromptTokensDetails.CachedTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if len(resp.Choices) == 0 {
		return Response{Usage: usage}, ErrEmptyResponse
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return Response{Usage: usage}, ErrEmptyResponse
	}

	return Response{Content: content, Usage: usage}, nil
}
