package conversation

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRole        = errors.New("invalid turn role")
	ErrMalformedTurn      = errors.New("malformed turn")
	ErrSystemTurn         = errors.New("system turns may only occupy index 0")
	ErrUnknownToolRequest = errors.New("tool turn does not answer the next pending tool request")
	ErrPendingToolResults = errors.New("tool requests are still awaiting results")
)

// Log is the append-only turn sequence of one conversation. Index 0 is always the
// system turn and is the only turn that can be rewritten. Log is not safe for
// concurrent use; the owning orchestrator serializes access.
type Log struct {
	turns []Turn
	// pending holds the unanswered requests of the latest assistant turn, in order.
	pending []ToolRequest
}

// NewLog starts a log with the given system content at index 0.
func NewLog(system string) *Log {
	return &Log{turns: []Turn{{Role: RoleSystem, Content: system}}}
}

// RestoreLog rebuilds a log from persisted turns, re-checking every invariant.
func RestoreLog(turns []Turn) (*Log, error) {
	if len(turns) == 0 || turns[0].Role != RoleSystem {
		return nil, fmt.Errorf("%w: restored log must start with a system turn", ErrMalformedTurn)
	}
	l := NewLog(turns[0].Content)
	for i, t := range turns[1:] {
		if err := l.Append(t); err != nil {
			return nil, fmt.Errorf("restore turn %d: %w", i+1, err)
		}
	}
	return l, nil
}

// Append adds t to the end of the log.
//
// Tool turns must answer the pending requests of the latest assistant turn in
// request order, and no other turn may be appended while requests are pending.
func (l *Log) Append(t Turn) error {
	if err := t.validate(); err != nil {
		return err
	}
	if t.Role == RoleSystem {
		return ErrSystemTurn
	}

	if t.Role == RoleTool {
		if len(l.pending) == 0 || l.pending[0].ID != t.ToolRequestID {
			return fmt.Errorf("%w: %q", ErrUnknownToolRequest, t.ToolRequestID)
		}
		if t.ToolName == "" {
			t.ToolName = l.pending[0].Name
		}
		l.pending = l.pending[1:]
	} else if len(l.pending) > 0 {
		return fmt.Errorf("%w: %d outstanding", ErrPendingToolResults, len(l.pending))
	}

	t = t.clone()
	if t.Role == RoleAssistant && len(t.ToolRequests) > 0 {
		l.pending = append([]ToolRequest(nil), t.ToolRequests...)
	}
	l.turns = append(l.turns, t)
	return nil
}

// ReplaceSystem rewrites the content of turn 0.
func (l *Log) ReplaceSystem(content string) {
	l.turns[0] = Turn{Role: RoleSystem, Content: content}
}

// Turns returns a deep copy of the log.
func (l *Log) Turns() []Turn { return CloneTurns(l.turns) }

// Len returns the number of turns including the system turn.
func (l *Log) Len() int { return len(l.turns) }

// Answered returns how many requests of the latest assistant turn already have
// a tool turn.
func (l *Log) Answered() int {
	n := 0
	for i := len(l.turns) - 1; i > 0 && l.turns[i].Role == RoleTool; i-- {
		n++
	}
	return n
}

// Pending returns the tool requests still awaiting a tool turn.
func (l *Log) Pending() []ToolRequest {
	out := make([]ToolRequest, len(l.pending))
	for i, r := range l.pending {
		r.Arguments = append([]byte(nil), r.Arguments...)
		out[i] = r
	}
	return out
}
