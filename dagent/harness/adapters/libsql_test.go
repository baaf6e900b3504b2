package adapters

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/deck-agent/dagent/conversation"
	"github.com/ZanzyTHEbar/deck-agent/dagent/db"
	ports "github.com/ZanzyTHEbar/deck-agent/dagent/harness/ports"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	conn, err := db.ConnectToDB(ctx, filepath.Join(t.TempDir(), "state.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.Migrate(ctx, conn, zerolog.Nop()))
	return conn
}

func TestLibSQLStateStore_SaveLoadAppend(t *testing.T) {
	ctx := context.Background()
	store := NewLibSQLStateStore(openTestDB(t))

	_, err := store.Load(ctx, "c1")
	require.ErrorIs(t, err, ports.ErrNoCheckpoint)

	cp := sampleCheckpoint("c1")
	require.NoError(t, store.Save(ctx, cp))

	got, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, ports.PhaseToolDispatch, got.Phase)
	assert.Equal(t, cp.Turns, got.Turns)
	assert.Equal(t, cp.Documents, got.Documents)
	assert.Equal(t, cp.Snapshot, got.Snapshot)
	assert.Equal(t, cp.PathMapping, got.PathMapping)
	require.NotNil(t, got.Pending)
	assert.Equal(t, uint64(7), got.Pending.Seq)
	assert.Equal(t, "hello", got.Pending.Signal.Query)
	assert.Equal(t, uint64(6), got.LastSignalSeq)

	// Append a tool turn, rewrite the system turn, finish the cycle.
	req := cp.Turns[2].ToolRequests[0]
	cp.Turns[0].Content = "sys v2"
	cp.Turns = append(cp.Turns, conversation.ToolTurn(req, "<slide/>"), conversation.AssistantTurn("done"))
	cp.Phase = ports.PhaseIdle
	cp.Pending = nil
	cp.LastSignalSeq = 7
	require.NoError(t, store.Save(ctx, cp))

	got, err = store.Load(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got.Turns, 5)
	assert.Equal(t, "sys v2", got.Turns[0].Content)
	assert.Equal(t, "done", got.Turns[4].Content)
	assert.Nil(t, got.Pending)
	assert.Equal(t, ports.PhaseIdle, got.Phase)

	// Saving the same checkpoint again is idempotent.
	require.NoError(t, store.Save(ctx, cp))
	got, err = store.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, got.Turns, 5)

	// A checkpoint shorter than what is stored is rejected.
	cp.Turns = cp.Turns[:3]
	assert.Error(t, store.Save(ctx, cp))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids)
}

func TestLibSQLMailbox_OrderAckAndWake(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mb := NewLibSQLMailbox(openTestDB(t), time.Hour, zerolog.Nop())

	s1, err := mb.Enqueue(ctx, "c1", conversation.Signal{Query: "one", PPTXPaths: []string{"a.pptx"}})
	require.NoError(t, err)
	s2, err := mb.Enqueue(ctx, "c1", conversation.Signal{Query: "two"})
	require.NoError(t, err)
	_, err = mb.Enqueue(ctx, "c2", conversation.Signal{Query: "other"})
	require.NoError(t, err)
	assert.Greater(t, s2, s1)

	env, err := mb.Next(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Equal(t, s1, env.Seq)
	assert.Equal(t, []string{"a.pptx"}, env.Signal.PPTXPaths)

	require.NoError(t, mb.Ack(ctx, "c1", s1))
	env, err = mb.Next(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Equal(t, "two", env.Signal.Query)

	require.NoError(t, mb.Ack(ctx, "c1", s2))
	depth, err := mb.Depth(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, depth)

	// With an hour-long poll interval only the in-process wakeup can deliver this.
	got := make(chan string, 1)
	go func() {
		env, err := mb.Next(ctx, "c1", s2)
		if err == nil {
			got <- env.Signal.Query
		}
	}()
	time.Sleep(50 * time.Millisecond)
	_, err = mb.Enqueue(ctx, "c1", conversation.Signal{Query: "three"})
	require.NoError(t, err)

	select {
	case q := <-got:
		assert.Equal(t, "three", q)
	case <-ctx.Done():
		t.Fatal("waiter was not woken")
	}
}
