// Package conversation is the data model of a document conversation: the append-only
// turn log, the active document set and the memory snapshot derived from it.
package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ToolRequest is one tool invocation emitted by an assistant turn.
type ToolRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Turn is one entry of the conversation log.
type Turn struct {
	Role          Role          `json:"role"`
	Content       string        `json:"content"`
	ToolRequests  []ToolRequest `json:"tool_requests,omitempty"`
	ToolRequestID string        `json:"tool_request_id,omitempty"`
	ToolName      string        `json:"tool_name,omitempty"`
}

// UserTurn builds a user turn.
func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// AssistantTurn builds an assistant turn carrying the given tool requests in order.
func AssistantTurn(content string, requests ...ToolRequest) Turn {
	if len(requests) == 0 {
		requests = nil
	}
	return Turn{Role: RoleAssistant, Content: content, ToolRequests: requests}
}

// ToolTurn builds the result turn answering req.
func ToolTurn(req ToolRequest, result string) Turn {
	return Turn{Role: RoleTool, Content: result, ToolRequestID: req.ID, ToolName: req.Name}
}

// RawArguments converts raw model output into a JSON argument payload. Invalid JSON is kept as a JSON
// string so the turn stays serializable and the dispatcher can report it.
func RawArguments(raw string) json.RawMessage {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 {
		return json.RawMessage(`{}`)
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(raw)
	return json.RawMessage(quoted)
}

func (t Turn) clone() Turn {
	out := t
	if t.ToolRequests != nil {
		out.ToolRequests = make([]ToolRequest, len(t.ToolRequests))
		for i, r := range t.ToolRequests {
			out.ToolRequests[i] = ToolRequest{
				ID:        r.ID,
				Name:      r.Name,
				Arguments: append(json.RawMessage(nil), r.Arguments...),
			}
		}
	}
	return out
}

func (t Turn) validate() error {
	if !t.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, t.Role)
	}
	switch t.Role {
	case RoleAssistant:
		seen := make(map[string]struct{}, len(t.ToolRequests))
		for _, r := range t.ToolRequests {
			if r.ID == "" {
				return fmt.Errorf("%w: tool request without id", ErrMalformedTurn)
			}
			if _, dup := seen[r.ID]; dup {
				return fmt.Errorf("%w: duplicate tool request id %q", ErrMalformedTurn, r.ID)
			}
			seen[r.ID] = struct{}{}
		}
	case RoleTool:
		if t.ToolRequestID == "" {
			return fmt.Errorf("%w: tool turn without tool_request_id", ErrMalformedTurn)
		}
	default:
		if len(t.ToolRequests) > 0 {
			return fmt.Errorf("%w: only assistant turns carry tool requests", ErrMalformedTurn)
		}
	}
	return nil
}

// CloneTurns deep-copies a turn slice.
func CloneTurns(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = t.clone()
	}
	return out
}
