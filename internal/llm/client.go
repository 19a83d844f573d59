// Package llm wraps the text-completion providers used by the agent: Bedrock
// Converse, Gemini and any OpenAI-compatible endpoint.
package llm

import (
	"context"
	"errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("llm: empty response")

// Message is one chat message sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// Request is a provider-neutral completion request. A negative Temperature
// leaves the provider default in place. An empty Model uses the client's
// configured model.
type Request struct {
	Model       string
	System      []string
	Messages    []Message
	MaxTokens   int32
	Temperature float32
	TopP        float32
	Stop        []string
}

type Response struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

// Client completes a chat exchange.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
