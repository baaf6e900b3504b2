package harnessports

import (
	"context"
	"time"

	"github.com/ZanzyTHEbar/deck-agent/dagent/conversation"
)

// Envelope is a queued signal with its mailbox sequence number.
type Envelope struct {
	Seq        uint64              `json:"seq"`
	Signal     conversation.Signal `json:"signal"`
	EnqueuedAt time.Time           `json:"enqueued_at"`
}

// Mailbox is the durable per-conversation FIFO of signals.
//
// Enqueue returns once the signal is durably stored. Next blocks until a signal
// with a sequence greater than after is available or ctx ends. Ack marks every
// signal up to seq as processed; acked signals are never redelivered.
type Mailbox interface {
	Enqueue(ctx context.Context, conversationID string, sig conversation.Signal) (uint64, error)
	Next(ctx context.Context, conversationID string, after uint64) (Envelope, error)
	Ack(ctx context.Context, conversationID string, seq uint64) error
}

// DepthReporter is implemented by mailboxes that can count unacknowledged signals.
type DepthReporter interface {
	Depth(ctx context.Context, conversationID string) (int, error)
}
