package adapters

import (
	"context"
	"time"

	ports "github.com/ZanzyTHEbar/deck-agent/dagent/harness/ports"
	"github.com/rs/zerolog"
)

type spanLoggerKey struct{}

// ZerologTracer implements the Tracer port by logging span boundaries.
type ZerologTracer struct {
	logger zerolog.Logger
}

// NewZerologTracer creates a new zerolog tracer.
func NewZerologTracer(logger zerolog.Logger) *ZerologTracer {
	return &ZerologTracer{logger: logger}
}

// StartSpan logs the span start and returns a finish func that logs its duration.
func (t *ZerologTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	lc := t.parent(ctx).With().Str("span", name)
	for k, v := range attrs {
		lc = lc.Interface(k, v)
	}
	spanLogger := lc.Logger()
	ctx = context.WithValue(ctx, spanLoggerKey{}, spanLogger)

	start := time.Now()
	spanLogger.Debug().Str("event", "span_start").Msg("span started")

	return ctx, func(err error) {
		ev := spanLogger.Debug()
		if err != nil {
			ev = spanLogger.Error().Err(err)
		}
		ev.Str("event", "span_end").Dur("duration", time.Since(start)).Msg("span finished")
	}
}

// Event logs name under the innermost span found in ctx.
func (t *ZerologTracer) Event(ctx context.Context, name string, attrs map[string]any) {
	l := t.parent(ctx)
	ev := l.Info()
	for k, v := range attrs {
		ev = ev.Interface(k, v)
	}
	ev.Str("event", name).Msg("trace event")
}

func (t *ZerologTracer) parent(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(spanLoggerKey{}).(zerolog.Logger); ok {
		return l
	}
	return t.logger
}

var _ ports.Tracer = (*ZerologTracer)(nil)
