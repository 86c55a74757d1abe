package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTraceIDContext(t *testing.T) {
	t.Run("adds provided trace ID", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "test-trace-123")
		assert.Equal(t, "test-trace-123", GetTraceID(ctx))
	})

	t.Run("generates a UUID when empty", func(t *testing.T) {
		traceID := GetTraceID(WithTraceID(context.Background(), ""))
		assert.Len(t, traceID, 36)
	})

	t.Run("preserves other values", func(t *testing.T) {
		type testKey string
		ctx := context.WithValue(context.Background(), testKey("k"), "v")
		ctx = WithTraceID(ctx, "trace-456")

		value, ok := ctx.Value(testKey("k")).(string)
		require.True(t, ok)
		assert.Equal(t, "v", value)
		assert.Equal(t, "trace-456", GetTraceID(ctx))
	})

	t.Run("child override leaves parent intact", func(t *testing.T) {
		parent := WithTraceID(context.Background(), "trace-1")
		child := WithTraceID(parent, "trace-2")

		assert.Equal(t, "trace-2", GetTraceID(child))
		assert.Equal(t, "trace-1", GetTraceID(parent))
	})
}

func TestGetTraceID(t *testing.T) {
	assert.Empty(t, GetTraceID(context.Background()))
	assert.Empty(t, GetTraceID(context.WithValue(context.Background(), TraceIDKey, 12345)))
}

func TestSessionIDContext(t *testing.T) {
	ctx := WithSessionID(context.Background(), "sess-1")
	assert.Equal(t, "sess-1", GetSessionID(ctx))
	assert.Empty(t, GetSessionID(context.Background()))
	assert.Empty(t, GetSessionID(context.WithValue(context.Background(), SessionIDKey, 7)))
}
