package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/deck-agent/dagent/conversation"
	ports "github.com/ZanzyTHEbar/deck-agent/dagent/harness/ports"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/sourcegraph/conc"
)

var (
	ErrStalled             = errors.New("conversation is stalled")
	ErrInstanceExists      = errors.New("conversation already exists")
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrRuntimeClosed       = errors.New("runtime is shut down")
	ErrCheckpointMismatch  = errors.New("checkpoint is inconsistent with its log")
)

// Status is a point-in-time view of one conversation.
type Status struct {
	ConversationID string      `json:"conversation_id"`
	Phase          ports.Phase `json:"phase"`
	Turns          int         `json:"turns"`
	LastSignalSeq  uint64      `json:"last_signal_seq"`
	Stalled        bool        `json:"stalled"`
	LastError      string      `json:"last_error,omitempty"`
	// QueueDepth is -1 when the mailbox cannot report it.
	QueueDepth int `json:"queue_depth"`
}

type actor struct {
	inst   *Instance
	resume chan struct{}

	mu      sync.Mutex
	stalled bool
	lastErr error
}

func (a *actor) setStalled(stalled bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stalled = stalled
	a.lastErr = err
}

// Runtime hosts one actor goroutine per conversation. Each actor drives its
// instance step by step, retrying failed steps with exponential backoff and
// stalling the conversation once retries are exhausted.
type Runtime struct {
	deps   *Deps
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup

	mu     sync.Mutex
	actors map[string]*actor
	closed bool
}

func NewRuntime(deps *Deps) *Runtime {
	deps = deps.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Runtime{
		deps:   deps,
		logger: deps.Logger.With().Str("component", "runtime").Logger(),
		ctx:    ctx,
		cancel: cancel,
		actors: make(map[string]*actor),
	}
}

// Start resumes every conversation found in the state store.
func (r *Runtime) Start(ctx context.Context) error {
	ids, err := r.deps.Store.List(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	for _, id := range ids {
		if _, err := r.ensure(ctx, id, false); err != nil {
			return err
		}
	}
	r.logger.Info().Int("conversations", len(ids)).Msg("runtime started")
	return nil
}

// Create starts a new, empty conversation.
func (r *Runtime) Create(ctx context.Context, id string) error {
	_, err := r.ensure(ctx, id, true)
	return err
}

// Signal queues a signal for the conversation, creating it on first use. It
// returns the mailbox sequence once the signal is durably stored.
func (r *Runtime) Signal(ctx context.Context, id string, sig conversation.Signal) (uint64, error) {
	if id == "" {
		return 0, fmt.Errorf("%w: empty conversation id", ErrUnknownConversation)
	}
	if _, err := r.ensure(ctx, id, false); err != nil {
		return 0, err
	}
	seq, err := r.deps.Mailbox.Enqueue(ctx, id, sig)
	if err != nil {
		return 0, fmt.Errorf("enqueue signal: %w", err)
	}
	r.deps.Metrics.signalEnqueued()
	return seq, nil
}

// Query returns the conversation log.
func (r *Runtime) Query(ctx context.Context, id string) ([]conversation.Turn, error) {
	if a := r.lookup(id); a != nil {
		return a.inst.CurrentLog(), nil
	}
	cp, err := r.deps.Store.Load(ctx, id)
	if errors.Is(err, ports.ErrNoCheckpoint) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}
	if err != nil {
		return nil, err
	}
	return cp.Turns, nil
}

// Status reports the phase, stall state and queue depth of a conversation.
func (r *Runtime) Status(ctx context.Context, id string) (Status, error) {
	a := r.lookup(id)
	if a == nil {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}
	st := Status{
		ConversationID: id,
		Phase:          a.inst.Phase(),
		Turns:          len(a.inst.CurrentLog()),
		LastSignalSeq:  a.inst.LastSignalSeq(),
		QueueDepth:     -1,
	}
	a.mu.Lock()
	st.Stalled = a.stalled
	if a.lastErr != nil {
		st.LastError = a.lastErr.Error()
	}
	a.mu.Unlock()

	if d, ok := r.deps.Mailbox.(ports.DepthReporter); ok {
		if n, err := d.Depth(ctx, id); err == nil {
			st.QueueDepth = n
		}
	}
	return st, nil
}

// Resume restarts a stalled conversation from its last checkpoint. It is a
// no-op for a conversation that is not stalled.
func (r *Runtime) Resume(_ context.Context, id string) error {
	a := r.lookup(id)
	if a == nil {
		return fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}
	a.mu.Lock()
	stalled := a.stalled
	a.mu.Unlock()
	if !stalled {
		return nil
	}
	select {
	case a.resume <- struct{}{}:
	default:
	}
	return nil
}

// Conversations lists the ids hosted by this runtime.
func (r *Runtime) Conversations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.actors))
	for id := range r.actors {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown stops every actor and waits for them to exit or ctx to end. A step
// in progress is abandoned; its conversation resumes from the last checkpoint.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info().Msg("runtime stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runtime) lookup(id string) *actor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.actors[id]
}

// ensure returns the running actor for id, loading or creating its instance.
func (r *Runtime) ensure(ctx context.Context, id string, mustCreate bool) (*actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRuntimeClosed
	}
	if a, ok := r.actors[id]; ok {
		if mustCreate {
			return nil, fmt.Errorf("%w: %s", ErrInstanceExists, id)
		}
		return a, nil
	}

	inst, err := LoadInstance(ctx, id, r.deps)
	switch {
	case errors.Is(err, ports.ErrNoCheckpoint):
		inst, err = NewInstance(ctx, id, r.deps)
		if err != nil {
			return nil, fmt.Errorf("create conversation %s: %w", id, err)
		}
	case err != nil:
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	case mustCreate:
		return nil, fmt.Errorf("%w: %s", ErrInstanceExists, id)
	}

	a := &actor{inst: inst, resume: make(chan struct{}, 1)}
	r.actors[id] = a
	r.deps.Metrics.actors(1)
	r.wg.Go(func() {
		defer r.deps.Metrics.actors(-1)
		r.run(r.ctx, a)
	})
	return a, nil
}

func (r *Runtime) backoff() retry.Backoff {
	p := r.deps.Policy
	base := p.RetryBackoff
	if base <= 0 {
		base = 10 * time.Millisecond
	}
	b := retry.NewExponential(base)
	if p.RetryMaxInterval > 0 {
		b = retry.WithCappedDuration(p.RetryMaxInterval, b)
	}
	retries := p.RetryCount
	if retries < 0 {
		retries = 0
	}
	return retry.WithMaxRetries(uint64(retries), b)
}

func (r *Runtime) run(ctx context.Context, a *actor) {
	logger := r.logger.With().Str("conversation_id", a.inst.ID()).Logger()
	for ctx.Err() == nil {
		err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
			phase := a.inst.phase
			if err := a.inst.Step(ctx); err != nil {
				if ctx.Err() != nil {
					return err
				}
				r.deps.Metrics.stepFault(string(phase))
				logger.Warn().Err(err).Str("phase", string(phase)).Msg("step failed")
				return retry.RetryableError(err)
			}
			return nil
		})
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		logger.Error().Err(err).Msg("conversation stalled")
		r.deps.Metrics.stalled(1)
		a.setStalled(true, fmt.Errorf("%w: %w", ErrStalled, err))
		select {
		case <-a.resume:
			logger.Info().Msg("conversation resumed")
			r.deps.Metrics.stalled(-1)
			a.setStalled(false, nil)
		case <-ctx.Done():
			r.deps.Metrics.stalled(-1)
			return
		}
	}
}
