package context

import (
	stdcontext "context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTraceContext(t *testing.T) {
	tc := NewTraceContext(stdcontext.Background())
	assert.NotEmpty(t, tc.TraceID)
	assert.NotEmpty(t, tc.SpanID)
	assert.NotNil(t, tc.Baggage)
	assert.NotNil(t, tc.Context())
}

func TestNewTraceContext_NilParent(t *testing.T) {
	tc := NewTraceContext(nil)
	assert.NotNil(t, tc.Context())
}

func TestTraceContext_NewSpan(t *testing.T) {
	tc := NewTraceContext(stdcontext.Background())
	initial := tc.SpanID
	next := tc.NewSpan()
	assert.NotEmpty(t, next)
	assert.NotEqual(t, initial, next)
	assert.Equal(t, next, tc.SpanID)
}

func TestNewTraceContextWithIDs(t *testing.T) {
	tc := NewTraceContextWithIDs(stdcontext.Background(), "trace-1", "span-1")
	assert.Equal(t, "trace-1", tc.TraceID)
	assert.Equal(t, "span-1", tc.SpanID)
}
