package adapters

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/deck-agent/dagent/conversation"
	ports "github.com/ZanzyTHEbar/deck-agent/dagent/harness/ports"
	"github.com/rs/zerolog"
)

// LibSQLMailbox stores signals in the conversation_signals table. Waiters in this
// process are woken on Enqueue; signals written by other processes are picked up
// on the next poll.
type LibSQLMailbox struct {
	db           *sql.DB
	pollInterval time.Duration
	logger       zerolog.Logger

	mu      sync.Mutex
	waiters map[string]chan struct{}
}

// NewLibSQLMailbox creates a mailbox on a migrated database.
func NewLibSQLMailbox(db *sql.DB, pollInterval time.Duration, logger zerolog.Logger) *LibSQLMailbox {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &LibSQLMailbox{
		db:           db,
		pollInterval: pollInterval,
		logger:       logger.With().Str("component", "mailbox_libsql").Logger(),
		waiters:      make(map[string]chan struct{}),
	}
}

func (m *LibSQLMailbox) Enqueue(ctx context.Context, conversationID string, sig conversation.Signal) (uint64, error) {
	payload, err := json.Marshal(sig)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal signal: %w", err)
	}

	var seq int64
	err = m.db.QueryRowContext(ctx, `
		INSERT INTO conversation_signals (conversation_id, payload, enqueued_at)
		VALUES (?, ?, ?)
		RETURNING seq
	`, conversationID, string(payload), time.Now().UnixNano()).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue signal: %w", err)
	}

	m.wake(conversationID)
	return uint64(seq), nil
}

func (m *LibSQLMailbox) Next(ctx context.Context, conversationID string, after uint64) (ports.Envelope, error) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		wait := m.waiter(conversationID)

		env, err := m.peek(ctx, conversationID, after)
		if err == nil {
			return env, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			if ctx.Err() != nil {
				return ports.Envelope{}, ctx.Err()
			}
			m.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("signal poll failed")
		}

		select {
		case <-ctx.Done():
			return ports.Envelope{}, ctx.Err()
		case <-wait:
		case <-ticker.C:
		}
	}
}

func (m *LibSQLMailbox) peek(ctx context.Context, conversationID string, after uint64) (ports.Envelope, error) {
	var (
		seq, enqueued int64
		payload       string
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT seq, payload, enqueued_at FROM conversation_signals
		WHERE conversation_id = ? AND acked_at IS NULL AND seq > ?
		ORDER BY seq ASC
		LIMIT 1
	`, conversationID, int64(after)).Scan(&seq, &payload, &enqueued)
	if err != nil {
		return ports.Envelope{}, err
	}

	env := ports.Envelope{Seq: uint64(seq), EnqueuedAt: time.Unix(0, enqueued)}
	if err := json.Unmarshal([]byte(payload), &env.Signal); err != nil {
		return ports.Envelope{}, fmt.Errorf("failed to unmarshal signal %d: %w", seq, err)
	}
	return env, nil
}

func (m *LibSQLMailbox) Ack(ctx context.Context, conversationID string, seq uint64) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE conversation_signals SET acked_at = ?
		WHERE conversation_id = ? AND seq <= ? AND acked_at IS NULL
	`, time.Now().UnixNano(), conversationID, int64(seq))
	if err != nil {
		return fmt.Errorf("failed to ack signals up to %d: %w", seq, err)
	}
	return nil
}

// Depth returns the number of unacknowledged signals for a conversation.
func (m *LibSQLMailbox) Depth(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conversation_signals WHERE conversation_id = ? AND acked_at IS NULL
	`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count signals: %w", err)
	}
	return n, nil
}

func (m *LibSQLMailbox) waiter(conversationID string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.waiters[conversationID]
	if !ok {
		ch = make(chan struct{})
		m.waiters[conversationID] = ch
	}
	return ch
}

func (m *LibSQLMailbox) wake(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.waiters[conversationID]; ok {
		close(ch)
		delete(m.waiters, conversationID)
	}
}

var _ ports.Mailbox = (*LibSQLMailbox)(nil)
