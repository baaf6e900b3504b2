package harnessports

import (
	"context"
	"encoding/json"
)

// ToolSpec describes a callable tool exposed to the model.
type ToolSpec struct {
	Name        string // unique logical name
	Description string // concise doc for model selection
	JSONSchema  []byte // JSON schema for args
}

// ToolCall represents a model-invoked function with JSON arguments.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// ToolDispatcher turns a tool call into the string result recorded in the log.
// Tool failures are results, not errors; a non-nil error means the call could
// not be attempted at all (for example the context expired).
type ToolDispatcher interface {
	Catalog() []ToolSpec
	Dispatch(ctx context.Context, call ToolCall, paths map[string]string) (string, error)
	IsMutating(name string) bool
}
