package harnessports

import (
	"context"
)

// PromptMessage is a single chat message handed to a provider.
type PromptMessage struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	ToolCalls  []ToolCall // assistant messages only
	ToolCallID string     // tool messages only
	Name       string     // tool name on tool messages
}

// PromptInput aggregates everything the provider needs to produce a completion.
type PromptInput struct {
	System   string            // content of the system turn
	Messages []PromptMessage   // ordered history after the system turn
	Tools    []ToolSpec        // tool declarations available to the model
	Meta     map[string]string // lightweight metadata for tracing/caching keys
}

// Options controls sampling, limits and tool preferences.
type Options struct {
	Model        string
	MaxNewTokens int
	Temperature  float32
	Stop         []string
	// ToolChoice: "auto" | "none" | specific tool name (if the provider supports it)
	ToolChoice string
}

// Usage captures token accounting for cost/telemetry.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the provider's non-streaming response.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
	Raw       any    // raw provider payload for debugging/telemetry
	Usage     *Usage // optional usage information
}

// Provider is the abstraction for reasoning backends.
type Provider interface {
	Complete(ctx context.Context, in PromptInput, opts Options) (Completion, error)
}
