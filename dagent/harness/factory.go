package harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ZanzyTHEbar/deck-agent/dagent/config"
	"github.com/ZanzyTHEbar/deck-agent/dagent/documents"
	"github.com/ZanzyTHEbar/deck-agent/dagent/harness/adapters"
	ports "github.com/ZanzyTHEbar/deck-agent/dagent/harness/ports"
	"github.com/ZanzyTHEbar/deck-agent/dagent/harness/tools"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Factory creates and wires harness components from configuration.
type Factory struct {
	cfg    *config.Config
	db     *sql.DB // optional; without it state and signals live in memory
	logger zerolog.Logger

	// Provider overrides the configured reasoning backend.
	Provider ports.Provider
	// Registerer receives the harness metrics; nil disables them.
	Registerer prometheus.Registerer

	closers []func()
}

// NewFactory creates a new harness factory.
func NewFactory(cfg *config.Config, db *sql.DB, logger zerolog.Logger) *Factory {
	return &Factory{cfg: cfg, db: db, logger: logger}
}

// CreateRuntime builds a runtime with every collaborator wired from config.
// Close releases the connections opened for it.
func (f *Factory) CreateRuntime(ctx context.Context) (*Runtime, error) {
	deps, err := f.CreateDeps(ctx)
	if err != nil {
		return nil, err
	}
	return NewRuntime(deps), nil
}

// CreateDeps wires the shared collaborators of conversation instances.
func (f *Factory) CreateDeps(ctx context.Context) (*Deps, error) {
	var metrics *Metrics
	if f.Registerer != nil {
		metrics = NewMetrics(f.Registerer)
	}

	mutator, err := documents.NewMutator(f.cfg.Documents.MutationCommand, f.logger)
	if err != nil {
		return nil, fmt.Errorf("mutation worker: %w", err)
	}
	activities := documents.NewActivities(mutator, f.logger)
	dispatcher := tools.NewDispatcher(activities, f.CreateGuardrails(), f.logger)

	provider := f.Provider
	if provider == nil {
		provider, err = f.createProvider()
		if err != nil {
			return nil, err
		}
	}
	catalog := dispatcher.Catalog()
	builder := NewPromptBuilder(catalog)
	var parser *OutputParser
	if f.cfg.Reasoner.ParseTextToolCalls {
		parser = NewOutputParser(catalog)
	}
	reasoner := NewReasonerAdapter(provider, builder, parser, f.createRateLimiter(), ports.Options{
		Model:        f.cfg.Reasoner.Model,
		MaxNewTokens: f.cfg.Reasoner.MaxTokens,
		Temperature:  f.cfg.Reasoner.Temperature,
		ToolChoice:   "auto",
	})

	mailbox, err := f.createMailbox(ctx)
	if err != nil {
		return nil, err
	}

	return &Deps{
		Reasoner:  reasoner,
		Snapshots: NewSnapshotAdapter(activities, f.createCache(), f.cfg.Harness.CacheTTLSeconds, f.logger, metrics),
		Tools:     dispatcher,
		Prompt:    builder,
		Mailbox:   mailbox,
		Store:     f.createStore(),
		Tracer:    f.createTracer(),
		Metrics:   metrics,
		Policy:    f.CreatePolicy(),
		Logger:    f.logger,
	}, nil
}

// Close releases connections opened by the factory.
func (f *Factory) Close() {
	for i := len(f.closers) - 1; i >= 0; i-- {
		f.closers[i]()
	}
	f.closers = nil
}

func (f *Factory) createProvider() (ports.Provider, error) {
	switch f.cfg.Reasoner.Provider {
	case "", "openai":
		p, err := adapters.NewOpenAIProvider(f.cfg.Reasoner.APIKey, f.cfg.Reasoner.BaseURL, f.cfg.Reasoner.Model, f.logger)
		if err != nil {
			return nil, fmt.Errorf("reasoner: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("reasoner: unsupported provider %q", f.cfg.Reasoner.Provider)
	}
}

func (f *Factory) createCache() ports.Cache {
	if !f.cfg.Harness.CacheEnabled {
		return &noOpCache{}
	}
	return adapters.NewLRUCache(f.cfg.Harness.CacheCapacity)
}

func (f *Factory) createRateLimiter() ports.RateLimiter {
	if !f.cfg.Harness.RateLimitEnabled {
		return &noOpRateLimiter{}
	}
	return adapters.NewTokenBucket(f.cfg.Harness.RateLimitCapacity, f.cfg.Harness.RateLimitRefillRate)
}

func (f *Factory) createTracer() ports.Tracer {
	if !f.cfg.Harness.EnableTracing {
		return &noOpTracer{}
	}
	return adapters.NewZerologTracer(f.logger)
}

func (f *Factory) createStore() ports.StateStore {
	if f.db == nil {
		f.logger.Warn().Msg("no database configured; conversation state will not survive a restart")
		return adapters.NewMemoryStateStore()
	}
	return adapters.NewLibSQLStateStore(f.db)
}

func (f *Factory) createMailbox(ctx context.Context) (ports.Mailbox, error) {
	switch f.cfg.Harness.Mailbox {
	case "memory":
		return adapters.NewMemoryMailbox(), nil
	case "", "libsql":
		if f.db == nil {
			return nil, errors.New("mailbox: libsql mailbox requires a database")
		}
		return adapters.NewLibSQLMailbox(f.db, f.cfg.Harness.PollInterval, f.logger), nil
	case "jetstream":
		nc, err := nats.Connect(f.cfg.NATS.URL, nats.Name("dagent"))
		if err != nil {
			return nil, fmt.Errorf("mailbox: connect to nats: %w", err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("mailbox: jetstream: %w", err)
		}
		mb, err := adapters.NewJetStreamMailbox(ctx, js, adapters.JetStreamMailboxConfig{
			Stream:        f.cfg.NATS.Stream,
			SubjectPrefix: f.cfg.NATS.SubjectPfx,
			AckWait:       f.cfg.NATS.AckWait,
		}, f.logger)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("mailbox: %w", err)
		}
		f.closers = append(f.closers, func() { _ = nc.Drain() })
		return mb, nil
	default:
		return nil, fmt.Errorf("mailbox: unknown backend %q", f.cfg.Harness.Mailbox)
	}
}

// CreateGuardrails creates guardrails from config.
func (f *Factory) CreateGuardrails() *tools.Guardrails {
	guardrails := tools.NewGuardrails()
	for _, name := range f.cfg.Harness.AllowedTools {
		if _, ok := tools.Lookup(name); !ok {
			f.logger.Warn().Str("tool", name).Msg("allowed_tools names an unknown tool")
			continue
		}
		guardrails.AddAllowedTool(name)
	}
	if f.cfg.Harness.AllowAnyPath {
		f.logger.Warn().Msg("tools may address files outside the active documents")
		guardrails.AllowAnyPath()
	}
	return guardrails
}

// CreatePolicy creates a policy from config, falling back to defaults for unset budgets.
func (f *Factory) CreatePolicy() *Policy {
	h := f.cfg.Harness
	policy := DefaultPolicy()
	if h.SnapshotTimeout > 0 {
		policy.SnapshotTimeout = h.SnapshotTimeout
	}
	if h.ReasoningTimeout > 0 {
		policy.ReasoningTimeout = h.ReasoningTimeout
	}
	if h.ToolTimeout > 0 {
		policy.ToolTimeout = h.ToolTimeout
	}
	if h.RetryCount >= 0 {
		policy.RetryCount = h.RetryCount
	}
	if h.RetryBackoff > 0 {
		policy.RetryBackoff = h.RetryBackoff
	}
	if h.RetryMaxInterval > 0 {
		policy.RetryMaxInterval = h.RetryMaxInterval
	}
	return policy
}

// noOpCache implements Cache with no-op behavior for a disabled cache.
type noOpCache struct{}

func (c *noOpCache) Get(ctx context.Context, key string) ([]byte, bool) { return nil, false }
func (c *noOpCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	return nil
}
func (c *noOpCache) Delete(ctx context.Context, key string) error { return nil }

// noOpRateLimiter implements RateLimiter with no-op behavior.
type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

// noOpTracer implements Tracer with no-op behavior.
type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

var (
	_ ports.Cache       = (*noOpCache)(nil)
	_ ports.RateLimiter = (*noOpRateLimiter)(nil)
	_ ports.Tracer      = (*noOpTracer)(nil)
)
