package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/deck-agent/dagent/conversation"
	ports "github.com/ZanzyTHEbar/deck-agent/dagent/harness/ports"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(2)

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	_, ok := c.Get(ctx, "a") // a becomes most recent
	require.True(t, ok)
	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))

	_, ok = c.Get(ctx, "b")
	assert.False(t, ok)
	v, ok := c.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)
	assert.Equal(t, 2, c.Len())

	require.NoError(t, c.Delete(ctx, "a"))
	_, ok = c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestLRUCache_TTL(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(4)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 10))
	_, ok := c.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(11 * time.Second)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestTokenBucket_WaitsForRefill(t *testing.T) {
	tb := NewTokenBucket(1, 20*time.Millisecond)
	ctx := context.Background()

	release, err := tb.Acquire(ctx, "openai")
	require.NoError(t, err)
	release()

	start := time.Now()
	_, err = tb.Acquire(ctx, "openai")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	// other keys have their own bucket
	_, err = tb.Acquire(ctx, "other")
	require.NoError(t, err)
}

func TestTokenBucket_ContextCancel(t *testing.T) {
	tb := NewTokenBucket(1, time.Hour)
	_, err := tb.Acquire(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = tb.Acquire(ctx, "k")
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestZerologTracer_NestedSpans(t *testing.T) {
	tr := NewZerologTracer(zerolog.Nop())
	ctx, end := tr.StartSpan(context.Background(), "outer", map[string]any{"conversation_id": "c1"})
	inner, endInner := tr.StartSpan(ctx, "inner", nil)
	tr.Event(inner, "checkpoint", map[string]any{"phase": "idle"})
	endInner(errors.New("boom"))
	end(nil)

	_, ok := inner.Value(spanLoggerKey{}).(zerolog.Logger)
	assert.True(t, ok)
}

func TestZerologTracer_EventCarriesSpanFields(t *testing.T) {
	var buf bytes.Buffer
	tr := NewZerologTracer(zerolog.New(&buf))
	ctx, end := tr.StartSpan(context.Background(), "tool_dispatch", map[string]any{"conversation_id": "c1"})
	buf.Reset()
	tr.Event(ctx, "checkpoint", map[string]any{"phase": "idle"})
	end(nil)

	line := strings.SplitN(buf.String(), "\n", 2)[0]
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &rec))
	assert.Equal(t, "info", rec["level"])
	assert.Equal(t, "tool_dispatch", rec["span"])
	assert.Equal(t, "c1", rec["conversation_id"])
	assert.Equal(t, "checkpoint", rec["event"])
	assert.Equal(t, "idle", rec["phase"])

	buf.Reset()
	tr.Event(context.Background(), "orphan", nil)
	assert.Contains(t, buf.String(), `"event":"orphan"`)
}

func TestMemoryMailbox_FIFOAndAck(t *testing.T) {
	ctx := context.Background()
	mb := NewMemoryMailbox()

	s1, err := mb.Enqueue(ctx, "c1", conversation.Signal{Query: "one"})
	require.NoError(t, err)
	s2, err := mb.Enqueue(ctx, "c1", conversation.Signal{Query: "two"})
	require.NoError(t, err)
	assert.Greater(t, s2, s1)

	env, err := mb.Next(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Equal(t, "one", env.Signal.Query)

	// unacked signals are redelivered
	env, err = mb.Next(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Equal(t, s1, env.Seq)

	require.NoError(t, mb.Ack(ctx, "c1", s1))
	env, err = mb.Next(ctx, "c1", s1)
	require.NoError(t, err)
	assert.Equal(t, "two", env.Signal.Query)

	depth, err := mb.Depth(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestMemoryMailbox_NextBlocksUntilEnqueue(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	mb := NewMemoryMailbox()

	got := make(chan ports.Envelope, 1)
	go func() {
		env, err := mb.Next(ctx, "c1", 0)
		if err == nil {
			got <- env
		}
	}()

	time.Sleep(20 * time.Millisecond)
	_, err := mb.Enqueue(ctx, "c1", conversation.Signal{Query: "late"})
	require.NoError(t, err)

	select {
	case env := <-got:
		assert.Equal(t, "late", env.Signal.Query)
	case <-ctx.Done():
		t.Fatal("Next did not wake up")
	}

	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	_, err = mb.Next(short, "empty", 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryStateStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStateStore()

	_, err := s.Load(ctx, "missing")
	assert.ErrorIs(t, err, ports.ErrNoCheckpoint)

	cp := sampleCheckpoint("c1")
	require.NoError(t, s.Save(ctx, cp))
	got, err := s.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, cp.Turns, got.Turns)
	assert.Equal(t, cp.Pending.Seq, got.Pending.Seq)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids)
}

func TestSubjectToken(t *testing.T) {
	assert.Equal(t, "conv-1_a", subjectToken("conv-1_a"))
	assert.Equal(t, "x612e62", subjectToken("a.b"))
}

func sampleCheckpoint(id string) ports.Checkpoint {
	req := conversation.ToolRequest{ID: "c1", Name: "inspect-slide", Arguments: []byte(`{"file_path":"a.pptx","slide_index":0}`)}
	return ports.Checkpoint{
		ConversationID: id,
		Phase:          ports.PhaseToolDispatch,
		Turns: []conversation.Turn{
			{Role: conversation.RoleSystem, Content: "sys"},
			conversation.UserTurn("hello"),
			conversation.AssistantTurn("", req),
		},
		Documents:     conversation.Documents{PPTXPaths: []string{"/d/a.pptx"}, ExcelPaths: []string{}},
		Snapshot:      conversation.MemorySnapshot{"a.pptx": {"Slide 1"}},
		PathMapping:   map[string]string{"a.pptx": "/d/a.pptx"},
		Pending:       &ports.Envelope{Seq: 7, Signal: conversation.Signal{Query: "hello", PPTXPaths: []string{"/d/a.pptx"}}},
		ToolCursor:    0,
		LastSignalSeq: 6,
	}
}
