package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini client.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// GeminiClient calls the Gemini API through the official SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini-backed Client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	if cfg.Model == "" {
		return nil, errors.New("gemini: empty model")
	}

	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: cfg.BaseURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &GeminiClient{client: c, model: cfg.Model}, nil
}

func (c *GeminiClient) Provider() string { return "gemini" }

func (c *GeminiClient) Model() string { return c.model }

// Complete sends one prompt with the system text as system instruction.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (Response, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return Response{}, fmt.Errorf("gemini generate content: %w", err)
	}

	var out Response
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			PromptTokens:     int64(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
			CachedTokens:     int64(resp.UsageMetadata.CachedContentTokenCount),
			TotalTokens:      int64(resp.UsageMetadata.TotalTokenCount),
		}
	}

	out.Content = strings.TrimSpace(resp.Text())
	if out.Content == "" {
		return out, ErrEmptyResponse
	}
	return out, nil
}
