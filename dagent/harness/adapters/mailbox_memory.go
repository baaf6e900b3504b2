package adapters

import (
	"context"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/deck-agent/dagent/conversation"
	ports "github.com/ZanzyTHEbar/deck-agent/dagent/harness/ports"
)

// MemoryMailbox is a process-local mailbox. It is durable only for the life of the
// process and exists for tests and single-shot runs.
type MemoryMailbox struct {
	mu     sync.Mutex
	seq    uint64
	queues map[string]*memoryQueue
}

type memoryQueue struct {
	items  []ports.Envelope
	notify chan struct{}
}

// NewMemoryMailbox creates an empty mailbox.
func NewMemoryMailbox() *MemoryMailbox {
	return &MemoryMailbox{queues: make(map[string]*memoryQueue)}
}

func (m *MemoryMailbox) queue(id string) *memoryQueue {
	q, ok := m.queues[id]
	if !ok {
		q = &memoryQueue{notify: make(chan struct{})}
		m.queues[id] = q
	}
	return q
}

func (m *MemoryMailbox) Enqueue(_ context.Context, conversationID string, sig conversation.Signal) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	q := m.queue(conversationID)
	q.items = append(q.items, ports.Envelope{Seq: m.seq, Signal: sig, EnqueuedAt: time.Now()})
	close(q.notify)
	q.notify = make(chan struct{})
	return m.seq, nil
}

func (m *MemoryMailbox) Next(ctx context.Context, conversationID string, after uint64) (ports.Envelope, error) {
	for {
		m.mu.Lock()
		q := m.queue(conversationID)
		for _, env := range q.items {
			if env.Seq > after {
				m.mu.Unlock()
				return env, nil
			}
		}
		wait := q.notify
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return ports.Envelope{}, ctx.Err()
		case <-wait:
		}
	}
}

func (m *MemoryMailbox) Ack(_ context.Context, conversationID string, seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queue(conversationID)
	i := 0
	for i < len(q.items) && q.items[i].Seq <= seq {
		i++
	}
	q.items = append([]ports.Envelope(nil), q.items[i:]...)
	return nil
}

// Depth returns the number of unacknowledged signals for a conversation.
func (m *MemoryMailbox) Depth(_ context.Context, conversationID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue(conversationID).items), nil
}

var _ ports.Mailbox = (*MemoryMailbox)(nil)
