package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/deck-agent/dagent/conversation"
	"github.com/ZanzyTHEbar/deck-agent/dagent/documents"
	"github.com/ZanzyTHEbar/deck-agent/dagent/documents/documentstest"
	adapters "github.com/ZanzyTHEbar/deck-agent/dagent/harness/adapters"
	ports "github.com/ZanzyTHEbar/deck-agent/dagent/harness/ports"
	"github.com/ZanzyTHEbar/deck-agent/dagent/harness/tools"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type replyFunc func(turns []conversation.Turn) (conversation.Turn, error)

// scriptedReasoner replays canned replies and answers "done" once they run out.
type scriptedReasoner struct {
	mu      sync.Mutex
	replies []replyFunc
	seen    [][]conversation.Turn
}

func (r *scriptedReasoner) Next(_ context.Context, _ string, turns []conversation.Turn) (conversation.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, turns)
	if len(r.replies) == 0 {
		return conversation.AssistantTurn("done"), nil
	}
	next := r.replies[0]
	r.replies = r.replies[1:]
	return next(turns)
}

func (r *scriptedReasoner) push(fns ...replyFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, fns...)
}

func (r *scriptedReasoner) calls() [][]conversation.Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]conversation.Turn(nil), r.seen...)
}

func say(content string, reqs ...conversation.ToolRequest) replyFunc {
	return func([]conversation.Turn) (conversation.Turn, error) {
		return conversation.AssistantTurn(content, reqs...), nil
	}
}

func fail(err error) replyFunc {
	return func([]conversation.Turn) (conversation.Turn, error) { return conversation.Turn{}, err }
}

func call(id, name, args string) conversation.ToolRequest {
	return conversation.ToolRequest{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

type testEnv struct {
	dir      string
	reasoner *scriptedReasoner
	mailbox  *adapters.MemoryMailbox
	store    *adapters.MemoryStateStore
	deps     *Deps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	activities := documents.NewActivities(documents.DisabledMutator{}, zerolog.Nop())
	env := &testEnv{
		dir:      t.TempDir(),
		reasoner: &scriptedReasoner{},
		mailbox:  adapters.NewMemoryMailbox(),
		store:    adapters.NewMemoryStateStore(),
	}
	env.deps = &Deps{
		Reasoner:  env.reasoner,
		Snapshots: NewSnapshotAdapter(activities, adapters.NewLRUCache(16), 0, zerolog.Nop(), nil),
		Tools:     tools.NewDispatcher(activities, tools.NewGuardrails(), zerolog.Nop()),
		Mailbox:   env.mailbox,
		Store:     env.store,
		Policy: &Policy{
			SnapshotTimeout:  5 * time.Second,
			ReasoningTimeout: 5 * time.Second,
			ToolTimeout:      5 * time.Second,
			RetryCount:       1,
			RetryBackoff:     time.Millisecond,
			RetryMaxInterval: 5 * time.Millisecond,
		},
		Logger: zerolog.Nop(),
	}
	return env
}

func (e *testEnv) signal(t *testing.T, id string, sig conversation.Signal) uint64 {
	t.Helper()
	seq, err := e.mailbox.Enqueue(context.Background(), id, sig)
	require.NoError(t, err)
	return seq
}

// cycle steps inst from idle through one complete signal cycle.
func cycle(t *testing.T, inst *Instance) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.Equal(t, ports.PhaseIdle, inst.Phase())
	require.NoError(t, inst.Step(ctx))
	for range 100 {
		require.NoError(t, inst.Step(ctx))
		if inst.Phase() == ports.PhaseIdle {
			return
		}
	}
	t.Fatal("cycle did not return to idle")
}

func stepUntil(t *testing.T, inst *Instance, phase ports.Phase) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for range 100 {
		require.NoError(t, inst.Step(ctx))
		if inst.Phase() == phase {
			return
		}
	}
	t.Fatalf("never reached %s", phase)
}

func roles(turns []conversation.Turn) []conversation.Role {
	out := make([]conversation.Role, len(turns))
	for i, t := range turns {
		out[i] = t.Role
	}
	return out
}

func threeSlides() []documentstest.Slide {
	return []documentstest.Slide{{Title: "Intro"}, {Title: "Numbers"}, {Title: "Close"}}
}

func TestScenarioA_SnapshotListsSlides(t *testing.T) {
	env := newTestEnv(t)
	deck := documentstest.WriteDeck(t, env.dir, "a.pptx", threeSlides()...)
	inst, err := NewInstance(context.Background(), "conv-a", env.deps)
	require.NoError(t, err)

	env.signal(t, "conv-a", conversation.Signal{Query: "list files", PPTXPaths: []string{deck}})
	stepUntil(t, inst, ports.PhaseReasoning)

	assert.Equal(t, conversation.MemorySnapshot{"a.pptx": {"Slide 1", "Slide 2", "Slide 3"}}, inst.state.Snapshot)
	assert.Equal(t, map[string]string{"a.pptx": deck}, inst.state.PathMapping)

	log := inst.CurrentLog()
	require.Len(t, log, 2)
	assert.Equal(t, conversation.RoleSystem, log[0].Role)
	assert.Contains(t, log[0].Content, `"a.pptx"`)
	assert.Contains(t, log[0].Content, `"Slide 3"`)
	assert.Contains(t, log[0].Content, deck)
	assert.Equal(t, conversation.RoleUser, log[1].Role)
	assert.Equal(t, "list files", log[1].Content)
}

func TestTurnZero_NamesEveryDocumentOrItsError(t *testing.T) {
	env := newTestEnv(t)
	deck := documentstest.WriteDeck(t, env.dir, "deck.pptx", threeSlides()...)
	book := documentstest.WriteWorkbook(t, env.dir, "book.xlsx",
		documentstest.Sheet{Name: "Revenue", Rows: [][]string{{"q", "v"}}},
		documentstest.Sheet{Name: "Costs"})
	missing := filepath.Join(env.dir, "missing.xlsx")
	inst, err := NewInstance(context.Background(), "conv", env.deps)
	require.NoError(t, err)

	env.signal(t, "conv", conversation.Signal{
		Query:      "summarize",
		PPTXPaths:  []string{deck},
		ExcelPaths: []string{book, missing},
	})
	cycle(t, inst)

	system := inst.CurrentLog()[0]
	assert.Equal(t, conversation.RoleSystem, system.Role)
	for _, name := range []string{"deck.pptx", "book.xlsx", "missing.xlsx", "Revenue", "Costs"} {
		assert.Contains(t, system.Content, name)
	}
	require.Len(t, inst.state.Snapshot["missing.xlsx"], 1)
	assert.True(t, strings.HasPrefix(inst.state.Snapshot["missing.xlsx"][0], "Error: "))
	assert.Contains(t, system.Content, "Always examine file content before making modifications.")
}

func TestTurnZero_KeepsNamesVerbatim(t *testing.T) {
	env := newTestEnv(t)
	deck := documentstest.WriteDeck(t, env.dir, "P&L <Q1>.pptx", threeSlides()...)
	inst, err := NewInstance(context.Background(), "conv", env.deps)
	require.NoError(t, err)

	env.signal(t, "conv", conversation.Signal{Query: "q", PPTXPaths: []string{deck}})
	cycle(t, inst)

	system := inst.CurrentLog()[0].Content
	assert.Contains(t, system, `"P&L <Q1>.pptx": [`)
	assert.Contains(t, system, `"P&L <Q1>.pptx": "`+deck+`"`)
	assert.NotContains(t, system, `\u0026`)
}

func TestScenarioB_OutOfRangeSlideIsToolResult(t *testing.T) {
	env := newTestEnv(t)
	deck := documentstest.WriteDeck(t, env.dir, "a.pptx", threeSlides()...)
	env.reasoner.push(say("", call("c1", "inspect-slide", `{"file_path":"a.pptx","slide_index":5}`)))
	inst, err := NewInstance(context.Background(), "conv-b", env.deps)
	require.NoError(t, err)

	env.signal(t, "conv-b", conversation.Signal{Query: "show slide 6", PPTXPaths: []string{deck}})
	cycle(t, inst)

	log := inst.CurrentLog()
	assert.Equal(t, []conversation.Role{
		conversation.RoleSystem, conversation.RoleUser, conversation.RoleAssistant,
		conversation.RoleTool, conversation.RoleAssistant,
	}, roles(log))
	assert.Equal(t, "Error: Slide index 5 out of range.", log[3].Content)
	assert.Equal(t, "c1", log[3].ToolRequestID)
	assert.Equal(t, "inspect-slide", log[3].ToolName)

	// the second reasoning call saw the error
	calls := env.reasoner.calls()
	require.Len(t, calls, 2)
	last := calls[1][len(calls[1])-1]
	assert.Equal(t, "Error: Slide index 5 out of range.", last.Content)
}

func TestScenarioC_SignalsDoNotInterleave(t *testing.T) {
	env := newTestEnv(t)
	env.reasoner.push(
		say("", call("c1", "inspect-slide", `{"file_path":"a.pptx","slide_index":0}`)),
		say("first answer"),
		say("second answer"),
	)
	deck := documentstest.WriteDeck(t, env.dir, "a.pptx", threeSlides()...)
	inst, err := NewInstance(context.Background(), "conv-c", env.deps)
	require.NoError(t, err)

	env.signal(t, "conv-c", conversation.Signal{Query: "first", PPTXPaths: []string{deck}})
	env.signal(t, "conv-c", conversation.Signal{Query: "second", PPTXPaths: []string{deck}})

	cycle(t, inst)
	log := inst.CurrentLog()
	assert.Equal(t, "first answer", log[len(log)-1].Content)
	for _, turn := range log {
		assert.NotEqual(t, "second", turn.Content)
	}

	cycle(t, inst)
	log = inst.CurrentLog()
	assert.Equal(t, []conversation.Role{
		conversation.RoleSystem,
		conversation.RoleUser, conversation.RoleAssistant, conversation.RoleTool, conversation.RoleAssistant,
		conversation.RoleUser, conversation.RoleAssistant,
	}, roles(log))
	assert.Equal(t, "second", log[5].Content)
	assert.Equal(t, "second answer", log[6].Content)
	assert.Equal(t, uint64(2), inst.LastSignalSeq())
}

func TestScenarioD_UnknownToolIsToolResult(t *testing.T) {
	env := newTestEnv(t)
	env.reasoner.push(say("", call("c1", "delete_file", `{"file_path":"a.pptx"}`)))
	inst, err := NewInstance(context.Background(), "conv-d", env.deps)
	require.NoError(t, err)

	env.signal(t, "conv-d", conversation.Signal{Query: "delete it"})
	cycle(t, inst)

	log := inst.CurrentLog()
	require.Len(t, log, 5)
	assert.Equal(t, "Unknown tool: delete_file", log[3].Content)
	assert.Equal(t, conversation.RoleAssistant, log[4].Role)
}

func TestToolMetricsBoundUnknownNames(t *testing.T) {
	env := newTestEnv(t)
	reg := prometheus.NewRegistry()
	env.deps.Metrics = NewMetrics(reg)
	env.reasoner.push(say("",
		call("c1", "delete_file", `{}`),
		call("c2", "rm_rf", `{}`),
		call("c3", "inspect-slide", `{"file_path":"a.pptx","slide_index":0}`),
	))
	inst, err := NewInstance(context.Background(), "conv", env.deps)
	require.NoError(t, err)
	env.signal(t, "conv", conversation.Signal{Query: "q"})
	cycle(t, inst)

	calls := env.deps.Metrics.ToolCalls
	assert.Equal(t, float64(2), testutil.ToFloat64(calls.WithLabelValues("unknown", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(calls.WithLabelValues("inspect-slide", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(calls))
}

func TestToolTurnsFollowRequestOrder(t *testing.T) {
	env := newTestEnv(t)
	deck := documentstest.WriteDeck(t, env.dir, "a.pptx", threeSlides()...)
	book := documentstest.WriteWorkbook(t, env.dir, "b.xlsx", documentstest.Sheet{Name: "Data", Rows: [][]string{{"k", "v"}, {"a", "1"}}})
	env.reasoner.push(say("looking",
		call("r1", "inspect-sheet", `{"file_path":"b.xlsx","sheet_name":"Data"}`),
		call("r2", "inspect-slide", `{"file_path":"a.pptx","slide_index":2}`),
		call("r3", "mutate-sheet", `{"file_path":"b.xlsx","sheet_name":"Data","code":"noop"}`),
	))
	inst, err := NewInstance(context.Background(), "conv", env.deps)
	require.NoError(t, err)

	env.signal(t, "conv", conversation.Signal{Query: "q", PPTXPaths: []string{deck}, ExcelPaths: []string{book}})
	cycle(t, inst)

	log := inst.CurrentLog()
	require.Len(t, log, 7)
	assert.Equal(t, "r1", log[3].ToolRequestID)
	assert.Equal(t, "r2", log[4].ToolRequestID)
	assert.Equal(t, "r3", log[5].ToolRequestID)
	assert.Contains(t, log[3].Content, "| k | v |")
	assert.Contains(t, log[4].Content, "Close")
	assert.Equal(t, "Error: "+documents.ErrMutationDisabled.Error(), log[5].Content)
}

func TestCurrentLog_IsAnIsolatedCopy(t *testing.T) {
	env := newTestEnv(t)
	inst, err := NewInstance(context.Background(), "conv", env.deps)
	require.NoError(t, err)
	env.signal(t, "conv", conversation.Signal{Query: "hello"})
	cycle(t, inst)

	first := inst.CurrentLog()
	second := inst.CurrentLog()
	assert.Equal(t, first, second)

	first[1].Content = "tampered"
	assert.Equal(t, "hello", inst.CurrentLog()[1].Content)
}

func TestCurrentLog_SafeDuringCycle(t *testing.T) {
	env := newTestEnv(t)
	for i := range 20 {
		env.reasoner.push(say("", call(fmt.Sprintf("c%d", i), "delete_file", `{}`)))
	}
	inst, err := NewInstance(context.Background(), "conv", env.deps)
	require.NoError(t, err)
	env.signal(t, "conv", conversation.Signal{Query: "loop"})

	done := make(chan error, 1)
	go func() {
		ctx := context.Background()
		for {
			if err := inst.Step(ctx); err != nil {
				done <- err
				return
			}
			if inst.Phase() == ports.PhaseIdle {
				done <- nil
				return
			}
		}
	}()
	prev := 0
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			assert.Len(t, inst.CurrentLog(), 2+20*2+1)
			return
		default:
		}
		log := inst.CurrentLog()
		assert.GreaterOrEqual(t, len(log), prev)
		prev = len(log)
	}
}

// versionedDocs is a dispatcher and snapshot builder sharing a document version
// that each mutating tool bumps.
type versionedDocs struct {
	mu      sync.Mutex
	version int
	builds  int
}

func (v *versionedDocs) Build(context.Context, conversation.Documents) conversation.MemorySnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.builds++
	return conversation.MemorySnapshot{"a.pptx": {fmt.Sprintf("Slide v%d", v.version)}}
}

func (v *versionedDocs) Catalog() []ports.ToolSpec { return tools.Specs() }

func (v *versionedDocs) IsMutating(name string) bool { return strings.HasPrefix(name, "mutate-") }

func (v *versionedDocs) Dispatch(_ context.Context, c ports.ToolCall, _ map[string]string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.IsMutating(c.Name) {
		v.version++
	}
	return "ok", nil
}

func TestMutationRefreshesTurnZeroBeforeNextTool(t *testing.T) {
	env := newTestEnv(t)
	docs := &versionedDocs{}
	env.deps.Snapshots = docs
	env.deps.Tools = docs
	env.reasoner.push(say("",
		call("m1", "mutate-slide", `{"file_path":"a.pptx","slide_index":0,"code":"x"}`),
		call("i1", "inspect-slide", `{"file_path":"a.pptx","slide_index":0}`),
		call("m2", "mutate-slide", `{"file_path":"a.pptx","slide_index":0,"code":"y"}`),
	))
	inst, err := NewInstance(context.Background(), "conv", env.deps)
	require.NoError(t, err)
	env.signal(t, "conv", conversation.Signal{Query: "edit", PPTXPaths: []string{"/tmp/a.pptx"}})

	stepUntil(t, inst, ports.PhaseToolDispatch)
	assert.Contains(t, inst.CurrentLog()[0].Content, "Slide v0")

	ctx := context.Background()
	require.NoError(t, inst.Step(ctx)) // m1
	assert.Contains(t, inst.CurrentLog()[0].Content, "Slide v1")
	require.NoError(t, inst.Step(ctx)) // i1 does not rebuild
	assert.Equal(t, 2, docs.builds)
	require.NoError(t, inst.Step(ctx)) // m2
	assert.Contains(t, inst.CurrentLog()[0].Content, "Slide v2")
	assert.Equal(t, ports.PhaseReasoning, inst.Phase())
}

func TestResumeFromCheckpointMidDispatch(t *testing.T) {
	env := newTestEnv(t)
	deck := documentstest.WriteDeck(t, env.dir, "a.pptx", threeSlides()...)
	env.reasoner.push(say("",
		call("r1", "inspect-slide", `{"file_path":"a.pptx","slide_index":0}`),
		call("r2", "inspect-slide", `{"file_path":"a.pptx","slide_index":1}`),
	))
	inst, err := NewInstance(context.Background(), "conv", env.deps)
	require.NoError(t, err)
	env.signal(t, "conv", conversation.Signal{Query: "q", PPTXPaths: []string{deck}})

	stepUntil(t, inst, ports.PhaseToolDispatch)
	require.NoError(t, inst.Step(context.Background())) // r1 only

	// a new process picks up from the store
	restored, err := LoadInstance(context.Background(), "conv", env.deps)
	require.NoError(t, err)
	assert.Equal(t, ports.PhaseToolDispatch, restored.Phase())
	assert.Equal(t, inst.CurrentLog(), restored.CurrentLog())
	assert.Equal(t, 1, restored.cursor)

	ctx := context.Background()
	for restored.Phase() != ports.PhaseIdle {
		require.NoError(t, restored.Step(ctx))
	}
	log := restored.CurrentLog()
	require.Len(t, log, 6)
	assert.Equal(t, "r1", log[3].ToolRequestID)
	assert.Equal(t, "r2", log[4].ToolRequestID)
	assert.Equal(t, "done", log[5].Content)
	assert.Len(t, env.reasoner.calls(), 2)
}

// ackFailingMailbox loses every ack, as if the process died right after the
// idle checkpoint was written.
type ackFailingMailbox struct {
	*adapters.MemoryMailbox
}

func (ackFailingMailbox) Ack(context.Context, string, uint64) error {
	return errors.New("connection reset")
}

func TestLoadInstance_RejectsCursorMismatch(t *testing.T) {
	env := newTestEnv(t)
	deck := documentstest.WriteDeck(t, env.dir, "a.pptx", threeSlides()...)
	env.reasoner.push(say("",
		call("r1", "inspect-slide", `{"file_path":"a.pptx","slide_index":0}`),
		call("r2", "inspect-slide", `{"file_path":"a.pptx","slide_index":1}`),
	))
	inst, err := NewInstance(context.Background(), "conv", env.deps)
	require.NoError(t, err)
	env.signal(t, "conv", conversation.Signal{Query: "q", PPTXPaths: []string{deck}})
	stepUntil(t, inst, ports.PhaseToolDispatch)
	require.NoError(t, inst.Step(context.Background()))

	ctx := context.Background()
	cp, err := env.deps.Store.Load(ctx, "conv")
	require.NoError(t, err)
	require.Equal(t, 1, cp.ToolCursor)
	cp.ToolCursor = 0
	require.NoError(t, env.deps.Store.Save(ctx, cp))

	_, err = LoadInstance(ctx, "conv", env.deps)
	require.ErrorIs(t, err, ErrCheckpointMismatch)
}

func TestRedeliveredSignalIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Mailbox = ackFailingMailbox{env.mailbox}
	inst, err := NewInstance(context.Background(), "conv", env.deps)
	require.NoError(t, err)

	env.signal(t, "conv", conversation.Signal{Query: "once"})
	cycle(t, inst)
	depth, err := env.mailbox.Depth(context.Background(), "conv")
	require.NoError(t, err)
	require.Equal(t, 1, depth, "signal still queued")

	restored, err := LoadInstance(context.Background(), "conv", env.deps)
	require.NoError(t, err)
	env.signal(t, "conv", conversation.Signal{Query: "twice"})
	cycle(t, restored)

	var users []string
	for _, turn := range restored.CurrentLog() {
		if turn.Role == conversation.RoleUser {
			users = append(users, turn.Content)
		}
	}
	assert.Equal(t, []string{"once", "twice"}, users)
}

func TestFailedStepRollsBack(t *testing.T) {
	env := newTestEnv(t)
	env.reasoner.push(fail(errors.New("upstream 503")))
	inst, err := NewInstance(context.Background(), "conv", env.deps)
	require.NoError(t, err)
	env.signal(t, "conv", conversation.Signal{Query: "q"})
	stepUntil(t, inst, ports.PhaseReasoning)
	before := inst.CurrentLog()

	err = inst.Step(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reasoning")
	assert.Equal(t, ports.PhaseReasoning, inst.Phase())
	assert.Equal(t, before, inst.CurrentLog())
	assert.Equal(t, conversation.RoleUser, inst.CurrentLog()[1].Role)

	require.NoError(t, inst.Step(context.Background()))
	assert.Equal(t, ports.PhaseIdle, inst.Phase())
}

type slowSnapshots struct{}

func (slowSnapshots) Build(ctx context.Context, _ conversation.Documents) conversation.MemorySnapshot {
	<-ctx.Done()
	return conversation.MemorySnapshot{}
}

func TestSnapshotTimeoutIsAFault(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Snapshots = slowSnapshots{}
	env.deps.Policy.SnapshotTimeout = 10 * time.Millisecond
	inst, err := NewInstance(context.Background(), "conv", env.deps)
	require.NoError(t, err)
	env.signal(t, "conv", conversation.Signal{Query: "q"})

	require.NoError(t, inst.Step(context.Background()))
	err = inst.Step(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, ports.PhaseContextRefresh, inst.Phase())
	assert.Len(t, inst.CurrentLog(), 1)
}

// lockingMutator holds the document lock until release is closed.
type lockingMutator struct {
	entered chan struct{}
	release chan struct{}
}

func (m lockingMutator) Mutate(context.Context, documents.MutationRequest) error {
	close(m.entered)
	<-m.release
	return nil
}

func TestSnapshotBudgetCoversLockWait(t *testing.T) {
	env := newTestEnv(t)
	deck := documentstest.WriteDeck(t, env.dir, "a.pptx", threeSlides()...)
	held := lockingMutator{entered: make(chan struct{}), release: make(chan struct{})}
	activities := documents.NewActivities(held, zerolog.Nop())
	env.deps.Snapshots = NewSnapshotAdapter(activities, nil, 0, zerolog.Nop(), nil)
	env.deps.Policy.SnapshotTimeout = 100 * time.Millisecond

	done := make(chan error, 1)
	go func() {
		_, err := activities.MutateSlide(context.Background(), deck, 0, "retitle")
		done <- err
	}()
	<-held.entered
	defer func() {
		close(held.release)
		assert.NoError(t, <-done)
	}()

	inst, err := NewInstance(context.Background(), "conv", env.deps)
	require.NoError(t, err)
	env.signal(t, "conv", conversation.Signal{Query: "q", PPTXPaths: []string{deck}})
	require.NoError(t, inst.Step(context.Background()))

	start := time.Now()
	err = inst.Step(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, ports.PhaseContextRefresh, inst.Phase())
}

func TestSnapshotAdapter_CachesByModTime(t *testing.T) {
	dir := t.TempDir()
	activities := documents.NewActivities(documents.DisabledMutator{}, zerolog.Nop())
	cache := adapters.NewLRUCache(8)
	builder := NewSnapshotAdapter(activities, cache, 0, zerolog.Nop(), nil)

	deck := documentstest.WriteDeck(t, dir, "a.pptx", threeSlides()...)
	docs := conversation.Documents{PPTXPaths: []string{deck}}
	snap := builder.Build(context.Background(), docs)
	assert.Len(t, snap["a.pptx"], 3)
	assert.Equal(t, 1, cache.Len())

	// rewrite with a different slide count and a later mtime
	documentstest.WriteDeck(t, dir, "a.pptx", documentstest.Slide{Title: "only"})
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(deck, later, later))
	snap = builder.Build(context.Background(), docs)
	assert.Equal(t, []string{"Slide 1"}, snap["a.pptx"])
}

func TestSnapshotAdapter_DuplicateNamesLastWins(t *testing.T) {
	dir := t.TempDir()
	activities := documents.NewActivities(documents.DisabledMutator{}, zerolog.Nop())
	builder := NewSnapshotAdapter(activities, nil, 0, zerolog.Nop(), nil)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "old"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "new"), 0o755))
	first := documentstest.WriteDeck(t, filepath.Join(dir, "old"), "dup.pptx", threeSlides()...)
	second := documentstest.WriteDeck(t, filepath.Join(dir, "new"), "dup.pptx", documentstest.Slide{Title: "x"})

	snap := builder.Build(context.Background(), conversation.Documents{PPTXPaths: []string{first, second}})
	assert.Equal(t, conversation.MemorySnapshot{"dup.pptx": {"Slide 1"}}, snap)
}
