// Package llm defines the Provider interface for Large Language Model backends.
//
// babelcast uses an LLM only as a translation engine: one system prompt, one
// user message, one non-streaming completion. Providers wrap a remote or local
// model API (OpenAI, Anthropic, Gemini, Ollama, ...) behind this single call.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyCompletion reports a reply without any text. A translation prompt
// always expects text back, so callers treat it as a backend fault.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Role names used in Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in the conversation sent to the model.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text of the message.
	Content string
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
type CompletionRequest struct {
	// SystemPrompt is injected before Messages.
	SystemPrompt string

	// Messages is the ordered conversation; the last entry drives the reply.
	Messages []Message

	// Temperature is always sent, so 0 requests greedy decoding.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int
}

// CompletionResponse is the full reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// It returns promptly with an error when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
