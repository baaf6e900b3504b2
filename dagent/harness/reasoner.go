package harness

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/deck-agent/dagent/conversation"
	ports "github.com/ZanzyTHEbar/deck-agent/dagent/harness/ports"
	"github.com/google/uuid"
)

// Reasoner produces the next assistant turn for a log.
type Reasoner interface {
	Next(ctx context.Context, conversationID string, turns []conversation.Turn) (conversation.Turn, error)
}

// ReasonerAdapter drives a Provider and normalizes its completion into an
// assistant turn with unique, non-empty request ids.
type ReasonerAdapter struct {
	provider ports.Provider
	builder  *PromptBuilder
	parser   *OutputParser // nil disables text tool-call recovery
	limiter  ports.RateLimiter
	opts     ports.Options
}

// NewReasonerAdapter wires a provider. limiter and parser may be nil.
func NewReasonerAdapter(provider ports.Provider, builder *PromptBuilder, parser *OutputParser, limiter ports.RateLimiter, opts ports.Options) *ReasonerAdapter {
	if limiter == nil {
		limiter = &noOpRateLimiter{}
	}
	return &ReasonerAdapter{provider: provider, builder: builder, parser: parser, limiter: limiter, opts: opts}
}

func (r *ReasonerAdapter) Next(ctx context.Context, conversationID string, turns []conversation.Turn) (conversation.Turn, error) {
	release, err := r.limiter.Acquire(ctx, "reasoner")
	if err != nil {
		return conversation.Turn{}, fmt.Errorf("reasoner rate limit: %w", err)
	}
	defer release()

	in := r.builder.Build(turns, map[string]string{"conversation_id": conversationID})
	comp, err := r.provider.Complete(ctx, in, r.opts)
	if err != nil {
		return conversation.Turn{}, err
	}

	calls := comp.ToolCalls
	if len(calls) == 0 && r.parser != nil {
		calls = r.parser.ParseToolCalls(comp.Text)
	}

	seen := make(map[string]bool, len(calls))
	reqs := make([]conversation.ToolRequest, 0, len(calls))
	for _, c := range calls {
		id := c.ID
		if id == "" || seen[id] {
			id = uuid.NewString()
		}
		seen[id] = true
		reqs = append(reqs, conversation.ToolRequest{
			ID:        id,
			Name:      c.Name,
			Arguments: conversation.RawArguments(string(c.Args)),
		})
	}
	return conversation.AssistantTurn(comp.Text, reqs...), nil
}
