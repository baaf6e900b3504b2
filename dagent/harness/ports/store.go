package harnessports

import (
	"context"
	"errors"
	"time"

	"github.com/ZanzyTHEbar/deck-agent/dagent/conversation"
)

// Phase is the orchestrator state recorded in a checkpoint.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseContextRefresh Phase = "context_refresh"
	PhaseReasoning      Phase = "reasoning"
	PhaseToolDispatch   Phase = "tool_dispatch"
)

// ErrNoCheckpoint is returned by Load for an unknown conversation.
var ErrNoCheckpoint = errors.New("no checkpoint for conversation")

// Checkpoint is the durable image of one conversation after a step.
type Checkpoint struct {
	ConversationID string
	Phase          Phase
	Turns          []conversation.Turn
	Documents      conversation.Documents
	Snapshot       conversation.MemorySnapshot
	PathMapping    map[string]string
	// Pending is the signal being processed; nil when idle.
	Pending *Envelope
	// ToolCursor is the index of the next tool request to dispatch.
	ToolCursor    int
	LastSignalSeq uint64
	UpdatedAt     time.Time
}

// StateStore persists conversation checkpoints. Save must be atomic.
type StateStore interface {
	Load(ctx context.Context, conversationID string) (Checkpoint, error)
	Save(ctx context.Context, cp Checkpoint) error
	List(ctx context.Context) ([]string, error)
}
