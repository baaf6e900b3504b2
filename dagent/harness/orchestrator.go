package harness

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/deck-agent/dagent/conversation"
	ports "github.com/ZanzyTHEbar/deck-agent/dagent/harness/ports"
	"github.com/rs/zerolog"
)

// Deps are the collaborators shared by every conversation instance.
type Deps struct {
	Reasoner  Reasoner
	Snapshots ports.SnapshotBuilder
	Tools     ports.ToolDispatcher
	Prompt    *PromptBuilder
	Mailbox   ports.Mailbox
	Store     ports.StateStore
	Tracer    ports.Tracer
	Metrics   *Metrics
	Policy    *Policy
	Logger    zerolog.Logger
}

func (d *Deps) withDefaults() *Deps {
	out := *d
	if out.Tracer == nil {
		out.Tracer = &noOpTracer{}
	}
	if out.Policy == nil {
		out.Policy = DefaultPolicy()
	}
	if out.Prompt == nil && out.Tools != nil {
		out.Prompt = NewPromptBuilder(out.Tools.Catalog())
	}
	return &out
}

// Instance is the state machine of one conversation. Step is called by a single
// goroutine; CurrentLog and Phase may be called from anywhere.
type Instance struct {
	deps   *Deps
	logger zerolog.Logger

	state   *conversation.ConversationState
	phase   ports.Phase
	pending *ports.Envelope
	cursor  int
	lastSeq uint64

	// saved is the last durable checkpoint; a failed step rolls back to it.
	saved ports.Checkpoint

	mu        sync.RWMutex
	viewTurns []conversation.Turn
	viewPhase ports.Phase
}

// NewInstance creates an idle conversation and persists its first checkpoint.
func NewInstance(ctx context.Context, id string, deps *Deps) (*Instance, error) {
	deps = deps.withDefaults()
	empty := conversation.MemorySnapshot{}
	i := &Instance{
		deps:   deps,
		logger: deps.Logger.With().Str("conversation_id", id).Logger(),
		state:  conversation.NewState(id, deps.Prompt.SystemPrompt(empty, nil)),
		phase:  ports.PhaseIdle,
	}
	if err := i.persist(ctx); err != nil {
		return nil, err
	}
	return i, nil
}

// LoadInstance restores a conversation from its latest checkpoint.
func LoadInstance(ctx context.Context, id string, deps *Deps) (*Instance, error) {
	deps = deps.withDefaults()
	cp, err := deps.Store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	i := &Instance{
		deps:   deps,
		logger: deps.Logger.With().Str("conversation_id", id).Logger(),
	}
	if err := i.restore(cp); err != nil {
		return nil, fmt.Errorf("restore conversation %s: %w", id, err)
	}
	i.saved = cp
	i.publish()
	return i, nil
}

func (i *Instance) ID() string { return i.state.ID }

// CurrentLog returns a copy of the log as of the last completed step.
func (i *Instance) CurrentLog() []conversation.Turn {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return conversation.CloneTurns(i.viewTurns)
}

// Phase returns the phase as of the last completed step.
func (i *Instance) Phase() ports.Phase {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.viewPhase
}

// LastSignalSeq is the sequence of the last fully processed signal.
func (i *Instance) LastSignalSeq() uint64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.saved.LastSignalSeq
}

// Step performs one transition and persists the resulting checkpoint. An error
// leaves the instance at its previous checkpoint, ready to retry the same step.
func (i *Instance) Step(ctx context.Context) error {
	phase := i.phase
	var err error
	switch phase {
	case ports.PhaseIdle:
		err = i.awaitSignal(ctx)
	case ports.PhaseContextRefresh:
		err = i.refreshContext(ctx)
	case ports.PhaseReasoning:
		err = i.reason(ctx)
	case ports.PhaseToolDispatch:
		err = i.dispatchTool(ctx)
	default:
		err = fmt.Errorf("unknown phase %q", phase)
	}
	if err != nil {
		if rerr := i.rollback(); rerr != nil {
			return errors.Join(fmt.Errorf("%s: %w", phase, err), rerr)
		}
		return fmt.Errorf("%s: %w", phase, err)
	}
	return nil
}

func (i *Instance) awaitSignal(ctx context.Context) error {
	env, err := i.deps.Mailbox.Next(ctx, i.state.ID, i.lastSeq)
	if err != nil {
		return err
	}
	i.logger.Debug().Uint64("seq", env.Seq).Msg("signal received")
	i.pending = &env
	i.phase = ports.PhaseContextRefresh
	return i.persist(ctx)
}

func (i *Instance) refreshContext(ctx context.Context) (err error) {
	ctx, finish := i.deps.Tracer.StartSpan(ctx, "context_refresh", map[string]any{
		"conversation_id": i.state.ID,
		"seq":             i.pending.Seq,
	})
	defer func() { finish(err) }()

	sig := i.pending.Signal
	i.state.SetDocuments(sig.Documents())
	if err := i.rebuildSnapshot(ctx); err != nil {
		return err
	}
	if err := i.state.Log.Append(conversation.UserTurn(sig.Query)); err != nil {
		return err
	}
	i.phase = ports.PhaseReasoning
	return i.persist(ctx)
}

func (i *Instance) reason(ctx context.Context) (err error) {
	ctx, finish := i.deps.Tracer.StartSpan(ctx, "reasoning", map[string]any{
		"conversation_id": i.state.ID,
		"turns":           i.state.Log.Len(),
	})
	defer func() { finish(err) }()

	rctx, cancel := context.WithTimeout(ctx, i.deps.Policy.ReasoningTimeout)
	start := time.Now()
	turn, err := i.deps.Reasoner.Next(rctx, i.state.ID, i.state.Log.Turns())
	cancel()
	i.deps.Metrics.reasoning(start, err)
	if err != nil {
		return fmt.Errorf("reasoner: %w", err)
	}
	if err := i.state.Log.Append(turn); err != nil {
		return fmt.Errorf("append assistant turn: %w", err)
	}

	if len(turn.ToolRequests) > 0 {
		i.phase = ports.PhaseToolDispatch
		i.cursor = 0
		return i.persist(ctx)
	}

	seq := i.pending.Seq
	i.phase = ports.PhaseIdle
	i.pending = nil
	i.lastSeq = seq
	if err := i.persist(ctx); err != nil {
		return err
	}
	i.deps.Metrics.signalProcessed()
	i.logger.Info().Uint64("seq", seq).Int("turns", i.state.Log.Len()).Msg("signal processed")

	// The checkpoint already records seq, so a failed ack only costs a skipped redelivery.
	if err := i.deps.Mailbox.Ack(ctx, i.state.ID, seq); err != nil {
		i.logger.Warn().Err(err).Uint64("seq", seq).Msg("mailbox ack failed")
	}
	return nil
}

func (i *Instance) dispatchTool(ctx context.Context) (err error) {
	pending := i.state.Log.Pending()
	if len(pending) == 0 {
		i.phase = ports.PhaseReasoning
		i.cursor = 0
		return i.persist(ctx)
	}
	req := pending[0]

	ctx, finish := i.deps.Tracer.StartSpan(ctx, "tool_dispatch", map[string]any{
		"conversation_id": i.state.ID,
		"tool":            req.Name,
		"request_id":      req.ID,
	})
	defer func() { finish(err) }()

	tctx, cancel := context.WithTimeout(ctx, i.deps.Policy.ToolTimeout)
	result, err := i.deps.Tools.Dispatch(tctx, ports.ToolCall{ID: req.ID, Name: req.Name, Args: req.Arguments}, i.state.PathMapping)
	cancel()
	if err != nil {
		i.deps.Metrics.toolCall(i.toolLabel(req.Name), "fault")
		return fmt.Errorf("tool %s: %w", req.Name, err)
	}
	i.deps.Metrics.toolCall(i.toolLabel(req.Name), toolStatus(result))

	if err := i.state.Log.Append(conversation.ToolTurn(req, result)); err != nil {
		return fmt.Errorf("append tool turn: %w", err)
	}
	if i.deps.Tools.IsMutating(req.Name) {
		if err := i.rebuildSnapshot(ctx); err != nil {
			return err
		}
	}

	i.cursor++
	if len(pending) == 1 {
		i.phase = ports.PhaseReasoning
		i.cursor = 0
	}
	return i.persist(ctx)
}

// rebuildSnapshot refreshes the memory snapshot and rewrites turn 0.
func (i *Instance) rebuildSnapshot(ctx context.Context) error {
	sctx, cancel := context.WithTimeout(ctx, i.deps.Policy.SnapshotTimeout)
	defer cancel()
	snap := i.deps.Snapshots.Build(sctx, i.state.Documents)
	if err := sctx.Err(); err != nil {
		return fmt.Errorf("memory snapshot: %w", err)
	}
	i.state.Snapshot = snap
	i.state.Log.ReplaceSystem(i.deps.Prompt.SystemPrompt(snap, i.state.PathMapping))
	return nil
}

// toolLabel bounds the tool metric label to the catalog.
func (i *Instance) toolLabel(name string) string {
	for _, t := range i.deps.Tools.Catalog() {
		if t.Name == name {
			return name
		}
	}
	return "unknown"
}

func toolStatus(result string) string {
	if strings.HasPrefix(result, "Error:") || strings.HasPrefix(result, "Unknown tool:") {
		return "error"
	}
	return "success"
}

func (i *Instance) checkpoint() ports.Checkpoint {
	cp := ports.Checkpoint{
		ConversationID: i.state.ID,
		Phase:          i.phase,
		Turns:          i.state.Log.Turns(),
		Documents:      i.state.Documents.Clone(),
		Snapshot:       i.state.Snapshot.Clone(),
		PathMapping:    maps.Clone(i.state.PathMapping),
		ToolCursor:     i.cursor,
		LastSignalSeq:  i.lastSeq,
		UpdatedAt:      time.Now().UTC(),
	}
	if i.pending != nil {
		env := *i.pending
		env.Signal.PPTXPaths = append([]string(nil), env.Signal.PPTXPaths...)
		env.Signal.ExcelPaths = append([]string(nil), env.Signal.ExcelPaths...)
		cp.Pending = &env
	}
	return cp
}

func (i *Instance) persist(ctx context.Context) error {
	cp := i.checkpoint()
	if err := i.deps.Store.Save(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	i.mu.Lock()
	i.saved = cp
	i.mu.Unlock()
	i.publish()
	return nil
}

func (i *Instance) restore(cp ports.Checkpoint) error {
	log, err := conversation.RestoreLog(conversation.CloneTurns(cp.Turns))
	if err != nil {
		return err
	}
	state := &conversation.ConversationState{
		ID:          cp.ConversationID,
		Log:         log,
		Documents:   cp.Documents.Clone(),
		Snapshot:    cp.Snapshot.Clone(),
		PathMapping: maps.Clone(cp.PathMapping),
	}
	if state.Snapshot == nil {
		state.Snapshot = conversation.MemorySnapshot{}
	}
	if state.PathMapping == nil {
		state.PathMapping = state.Documents.PathMapping()
	}

	phase := cp.Phase
	if phase == "" {
		phase = ports.PhaseIdle
	}
	if phase != ports.PhaseIdle && cp.Pending == nil {
		return fmt.Errorf("phase %s without a pending signal", phase)
	}
	if phase == ports.PhaseToolDispatch && log.Answered() != cp.ToolCursor {
		return fmt.Errorf("%w: tool cursor %d but %d results logged", ErrCheckpointMismatch, cp.ToolCursor, log.Answered())
	}

	i.state = state
	i.phase = phase
	i.cursor = cp.ToolCursor
	i.lastSeq = cp.LastSignalSeq
	i.pending = nil
	if cp.Pending != nil {
		env := *cp.Pending
		i.pending = &env
	}
	return nil
}

func (i *Instance) rollback() error {
	i.mu.RLock()
	cp := i.saved
	i.mu.RUnlock()
	return i.restore(cp)
}

func (i *Instance) publish() {
	turns := i.state.Log.Turns()
	i.mu.Lock()
	i.viewTurns = turns
	i.viewPhase = i.phase
	i.mu.Unlock()
}
