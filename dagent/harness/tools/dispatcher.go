package tools

import (
	"context"
	"errors"
	"fmt"

	ports "github.com/ZanzyTHEbar/deck-agent/dagent/harness/ports"
	"github.com/rs/zerolog"
)

// Dispatcher routes tool calls to the document activities. It never touches the
// conversation log and reports every tool-level failure as a result string.
type Dispatcher struct {
	activities ports.DocumentActivities
	guard      *Guardrails
	validator  *JSONValidator
	logger     zerolog.Logger
}

// NewDispatcher creates a dispatcher. A nil guard uses NewGuardrails.
func NewDispatcher(activities ports.DocumentActivities, guard *Guardrails, logger zerolog.Logger) *Dispatcher {
	if guard == nil {
		guard = NewGuardrails()
	}
	return &Dispatcher{
		activities: activities,
		guard:      guard,
		validator:  NewJSONValidator(),
		logger:     logger.With().Str("component", "tool_dispatcher").Logger(),
	}
}

// Catalog returns the four document tools.
func (d *Dispatcher) Catalog() []ports.ToolSpec { return Specs() }

// IsMutating reports whether name refers to a mutating tool.
func (d *Dispatcher) IsMutating(name string) bool {
	k, ok := Lookup(name)
	return ok && k.Mutating()
}

// Dispatch runs one tool call. paths maps display names to full paths; a
// file_path equal to a display name is resolved through it. The error return is
// only used for faults such as an expired context.
func (d *Dispatcher) Dispatch(ctx context.Context, call ports.ToolCall, paths map[string]string) (string, error) {
	kind, ok := Lookup(call.Name)
	if !ok {
		return fmt.Sprintf("Unknown tool: %s", call.Name), nil
	}
	if !d.guard.ToolAllowed(call.Name) {
		return fmt.Sprintf("Error: tool %s is not allowed", call.Name), nil
	}

	inv, err := Parse(d.validator, kind, call.Args)
	if err != nil {
		return fmt.Sprintf("Error: invalid arguments for %s: %s", call.Name, err), nil
	}
	if full, ok := paths[inv.Path()]; ok {
		inv = inv.withPath(full)
	}
	if !d.guard.PathAllowed(inv.Path(), paths) {
		return fmt.Sprintf("Error: %s is not one of the active documents", inv.Path()), nil
	}

	d.logger.Debug().
		Str("tool", call.Name).
		Str("tool_call_id", call.ID).
		Str("file_path", inv.Path()).
		Msg("dispatching tool")

	result, err := d.run(ctx, inv)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("tool %s: %w", call.Name, err)
		}
		result = "Error: " + err.Error()
	}
	return d.guard.SanitizeOutput(result), nil
}

func (d *Dispatcher) run(ctx context.Context, inv Invocation) (string, error) {
	switch v := inv.(type) {
	case InspectSlide:
		return d.activities.InspectSlide(ctx, v.FilePath, v.SlideIndex)
	case InspectSheet:
		return d.activities.InspectSheet(ctx, v.FilePath, v.SheetName)
	case MutateSlide:
		return d.activities.MutateSlide(ctx, v.FilePath, v.SlideIndex, v.Code)
	case MutateSheet:
		return d.activities.MutateSheet(ctx, v.FilePath, v.SheetName, v.Code)
	default:
		return "", fmt.Errorf("unhandled invocation %T", inv)
	}
}

var _ ports.ToolDispatcher = (*Dispatcher)(nil)
