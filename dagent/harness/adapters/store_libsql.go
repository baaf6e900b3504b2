package adapters

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/deck-agent/dagent/conversation"
	ports "github.com/ZanzyTHEbar/deck-agent/dagent/harness/ports"
)

// LibSQLStateStore persists conversation checkpoints in the conversations and
// conversation_turns tables.
type LibSQLStateStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewLibSQLStateStore creates a store on a migrated database.
func NewLibSQLStateStore(db *sql.DB) *LibSQLStateStore {
	return &LibSQLStateStore{db: db, now: time.Now}
}

// Save writes cp in one transaction. Turns are append-only, so only turns past the
// stored tail are inserted; the system turn at seq 0 is rewritten every time.
func (s *LibSQLStateStore) Save(ctx context.Context, cp ports.Checkpoint) (err error) {
	documents, err := json.Marshal(cp.Documents)
	if err != nil {
		return fmt.Errorf("failed to marshal documents: %w", err)
	}
	snapshot, err := json.Marshal(cp.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	mapping, err := json.Marshal(cp.PathMapping)
	if err != nil {
		return fmt.Errorf("failed to marshal path mapping: %w", err)
	}
	var pending sql.NullString
	if cp.Pending != nil {
		raw, err := json.Marshal(cp.Pending)
		if err != nil {
			return fmt.Errorf("failed to marshal pending signal: %w", err)
		}
		pending = sql.NullString{String: string(raw), Valid: true}
	}
	if len(cp.Turns) == 0 {
		return fmt.Errorf("checkpoint for %s has no turns", cp.ConversationID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, phase, documents, snapshot, path_mapping, pending, tool_cursor, last_signal_seq, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			phase = excluded.phase,
			documents = excluded.documents,
			snapshot = excluded.snapshot,
			path_mapping = excluded.path_mapping,
			pending = excluded.pending,
			tool_cursor = excluded.tool_cursor,
			last_signal_seq = excluded.last_signal_seq,
			updated_at = excluded.updated_at
	`, cp.ConversationID, string(cp.Phase), string(documents), string(snapshot), string(mapping),
		pending, cp.ToolCursor, int64(cp.LastSignalSeq), now.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}

	var stored sql.NullInt64
	if err = tx.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM conversation_turns WHERE conversation_id = ?`, cp.ConversationID,
	).Scan(&stored); err != nil {
		return fmt.Errorf("failed to read turn tail: %w", err)
	}
	next := 0
	if stored.Valid {
		next = int(stored.Int64) + 1
	}
	if next > len(cp.Turns) {
		err = fmt.Errorf("checkpoint for %s has %d turns but %d are stored", cp.ConversationID, len(cp.Turns), next)
		return err
	}

	system, err := json.Marshal(cp.Turns[0])
	if err != nil {
		return fmt.Errorf("failed to marshal system turn: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO conversation_turns (conversation_id, seq, turn_data, created_at)
		VALUES (?, 0, ?, ?)
		ON CONFLICT(conversation_id, seq) DO UPDATE SET turn_data = excluded.turn_data
	`, cp.ConversationID, string(system), now.UnixNano()); err != nil {
		return fmt.Errorf("failed to write system turn: %w", err)
	}

	for seq := max(next, 1); seq < len(cp.Turns); seq++ {
		var raw []byte
		raw, err = json.Marshal(cp.Turns[seq])
		if err != nil {
			return fmt.Errorf("failed to marshal turn %d: %w", seq, err)
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO conversation_turns (conversation_id, seq, turn_data, created_at)
			VALUES (?, ?, ?, ?)
		`, cp.ConversationID, seq, string(raw), now.UnixNano()); err != nil {
			return fmt.Errorf("failed to insert turn %d: %w", seq, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

// Load reads the checkpoint of conversationID, or ports.ErrNoCheckpoint.
func (s *LibSQLStateStore) Load(ctx context.Context, conversationID string) (ports.Checkpoint, error) {
	cp := ports.Checkpoint{ConversationID: conversationID}

	var (
		phase, documents, snapshot, mapping string
		pending                             sql.NullString
		lastSeq, updated                    int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT phase, documents, snapshot, path_mapping, pending, tool_cursor, last_signal_seq, updated_at
		FROM conversations WHERE id = ?
	`, conversationID).Scan(&phase, &documents, &snapshot, &mapping, &pending, &cp.ToolCursor, &lastSeq, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return cp, ports.ErrNoCheckpoint
	}
	if err != nil {
		return cp, fmt.Errorf("failed to query conversation: %w", err)
	}

	cp.Phase = ports.Phase(phase)
	cp.LastSignalSeq = uint64(lastSeq)
	cp.UpdatedAt = time.Unix(0, updated)
	if err := json.Unmarshal([]byte(documents), &cp.Documents); err != nil {
		return cp, fmt.Errorf("failed to unmarshal documents: %w", err)
	}
	if err := json.Unmarshal([]byte(snapshot), &cp.Snapshot); err != nil {
		return cp, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(mapping), &cp.PathMapping); err != nil {
		return cp, fmt.Errorf("failed to unmarshal path mapping: %w", err)
	}
	if pending.Valid {
		cp.Pending = &ports.Envelope{}
		if err := json.Unmarshal([]byte(pending.String), cp.Pending); err != nil {
			return cp, fmt.Errorf("failed to unmarshal pending signal: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, turn_data FROM conversation_turns
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return cp, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq int
			raw string
		)
		if err := rows.Scan(&seq, &raw); err != nil {
			return cp, fmt.Errorf("failed to scan turn: %w", err)
		}
		if seq != len(cp.Turns) {
			return cp, fmt.Errorf("turn sequence gap at %d in %s", seq, conversationID)
		}
		var turn conversation.Turn
		if err := json.Unmarshal([]byte(raw), &turn); err != nil {
			return cp, fmt.Errorf("failed to unmarshal turn %d: %w", seq, err)
		}
		cp.Turns = append(cp.Turns, turn)
	}
	if err := rows.Err(); err != nil {
		return cp, fmt.Errorf("error iterating turns: %w", err)
	}
	return cp, nil
}

// List returns every conversation id with a checkpoint.
func (s *LibSQLStateStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM conversations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var _ ports.StateStore = (*LibSQLStateStore)(nil)
