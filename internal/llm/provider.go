// Package llm defines the provider-agnostic interface for generative text.
// Mazoea uses it for exactly one thing: producing significance notes for
// newly established rituals. Tool use and streaming are deliberately absent.
package llm

import "context"

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete sends a prompt and returns the model's text response.
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "openai", "ollama").
	Name() string
}

// Request is a single-turn completion request.
type Request struct {
	SystemPrompt string
	Prompt       string
	MaxTokens    int
}

// Response is the provider's reply.
type Response struct {
	Text  string
	Usage Usage
}

// Usage reports token consumption for observability.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
