package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when a provider answers without text.
var ErrEmptyResponse = errors.New("llm returned an empty response")

// Request is a single system+user completion call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Usage is the token count reported by the provider.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	CachedTokens     int64
	TotalTokens      int64
}

// Response is the generated text and its usage.
type Response struct {
	Content string
	Usage   Usage
}

// Client is a text-generation provider.
type Client interface {
	Provider() string
	Model() string
	Complete(ctx context.Context, req Request) (Response, error)
}
