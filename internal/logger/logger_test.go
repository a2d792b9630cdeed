package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestParseLogLevel verifies string-to-level parsing including the fallback.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	level, ok := ParseLogLevel("debug")
	require.True(t, ok)
	require.Equal(t, zapcore.DebugLevel, level)

	level, ok = ParseLogLevel("  WARN ")
	require.True(t, ok)
	require.Equal(t, zapcore.WarnLevel, level)

	// Unknown input falls back to info.
	level, ok = ParseLogLevel("verbose")
	require.False(t, ok)
	require.Equal(t, zapcore.InfoLevel, level)
}

// TestFromContext asserts the fallback to the global logger and round-tripping.
func TestFromContext(t *testing.T) {
	t.Parallel()

	require.NotNil(t, FromContext(context.Background()))
	//nolint:staticcheck // Nil context is exactly what is being tested.
	require.NotNil(t, FromContext(nil))

	core, _ := observer.New(zapcore.InfoLevel)
	custom := zap.New(core).Sugar()

	ctx := ToContext(context.Background(), custom)
	require.Same(t, custom, FromContext(ctx))
}

// TestWithName checks that named loggers write entries under the given name.
func TestWithName(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	ctx := ToContext(context.Background(), zap.New(core).Sugar())
	ctx = WithName(ctx, "guardian-test")

	Info(ctx, "hello")

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "guardian-test", entries[0].LoggerName)
}

// TestWithKV checks that key-value context fields are attached to entries.
func TestWithKV(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	ctx := ToContext(context.Background(), zap.New(core).Sugar())
	ctx = WithKV(ctx, "session_id", "abc")

	InfoKV(ctx, "event", "user_id", "u1")

	entries := logs.All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	require.Equal(t, "abc", fields["session_id"])
	require.Equal(t, "u1", fields["user_id"])
}
