package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFieldConstructors(t *testing.T) {
	assert.Equal(t, Field{Key: "k", Value: "v"}, String("k", "v"))
	assert.Equal(t, Field{Key: "n", Value: 7}, Int("n", 7))
	assert.Equal(t, Field{Key: "d", Value: time.Second}, Duration("d", time.Second))
	assert.Equal(t, Field{Key: "error", Value: "<nil>"}, Err(nil))
}

func TestZapLogger_EmitsStructuredFields(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	logger := NewLoggerFromCore(core)

	logger.Info("scan complete",
		String("document", "doc-1"),
		Int("matches", 3),
		Float64("confidence", 0.87),
		Bool("fallback", false),
	)

	entries := observed.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "scan complete", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Equal(t, "doc-1", fields["document"])
	assert.Equal(t, int64(3), fields["matches"])
	assert.Equal(t, 0.87, fields["confidence"])
	assert.Equal(t, false, fields["fallback"])
}

func TestZapLogger_WithAddsPersistentFields(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	logger := NewLoggerFromCore(core).With(String("component", "matcher"))

	logger.Warn("worker timeout")
	logger.Error("fallback engaged")

	entries := observed.All()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "matcher", e.ContextMap()["component"])
	}
}

func TestNewLogger_DefaultsAndLevelSwap(t *testing.T) {
	logger, err := NewLogger(Config{})
	require.NoError(t, err)

	setter, ok := logger.(LevelSetter)
	require.True(t, ok, "zap logger must support runtime level changes")
	setter.SetLevel("debug")
	setter.SetLevel("nonsense") // falls back to info, must not panic
}

func TestNopLogger_IsInert(t *testing.T) {
	logger := NewNopLogger()
	logger.Debug("ignored")
	child := logger.With(String("a", "b")).Named("child")
	child.Error("also ignored")
}
