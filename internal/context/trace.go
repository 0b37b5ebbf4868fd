// Package context carries the explicit per-attempt state the workflow
// needs: observability identifiers and the buyer's identity. Nothing here
// is ambient; every operation receives these values as arguments.
package context

import (
	stdcontext "context"

	"github.com/google/uuid"
)

// TraceContext carries cross-cutting observability concerns: a stable
// trace ID for the whole attempt and the current span ID, layered over a
// standard context for cancellation and deadline propagation.
type TraceContext struct {
	TraceID string
	SpanID  string
	Baggage map[string]string

	stdCtx stdcontext.Context
}

// NewTraceContext creates a TraceContext with fresh trace and span IDs.
// A nil parent falls back to context.Background().
func NewTraceContext(parent stdcontext.Context) TraceContext {
	if parent == nil {
		parent = stdcontext.Background()
	}
	return TraceContext{
		TraceID: uuid.NewString(),
		SpanID:  uuid.NewString(),
		Baggage: make(map[string]string),
		stdCtx:  parent,
	}
}

// NewTraceContextWithIDs rebuilds a TraceContext around a new standard
// context while preserving the original trace ID, used after starting an
// OpenTelemetry span.
func NewTraceContextWithIDs(ctx stdcontext.Context, traceID, spanID string) TraceContext {
	if ctx == nil {
		ctx = stdcontext.Background()
	}
	return TraceContext{
		TraceID: traceID,
		SpanID:  spanID,
		Baggage: make(map[string]string),
		stdCtx:  ctx,
	}
}

// Context returns the underlying standard context.
func (tc TraceContext) Context() stdcontext.Context {
	if tc.stdCtx == nil {
		return stdcontext.Background()
	}
	return tc.stdCtx
}

// NewSpan generates and records a new span ID for a child operation
// within the same trace.
func (tc *TraceContext) NewSpan() string {
	tc.SpanID = uuid.NewString()
	return tc.SpanID
}
