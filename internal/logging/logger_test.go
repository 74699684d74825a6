package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestConfig_Validate(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Format = "xml"
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Output.Stdout = false
	cfg.Output.OTEL = false
	assert.Error(t, cfg.Validate())
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.NotNil(t, logger.Underlying())
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "bogus"
	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
}

func TestNewLogger_ConsoleFormat(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "console"
	cfg.Level = zapcore.DebugLevel
	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	logger.Debug(context.Background(), "debug message", zap.String("k", "v"))
}

func TestContextFields_Empty(t *testing.T) {
	fields := ContextFields(context.Background())
	assert.Empty(t, fields)
}

func TestContextFields_TaskAndCollection(t *testing.T) {
	ctx := WithTaskID(context.Background(), "task-123")
	ctx = WithCollection(ctx, "docs")

	fields := ContextFields(ctx)
	require.Len(t, fields, 2)
	assert.Equal(t, "task.id", fields[0].Key)
	assert.Equal(t, "task-123", fields[0].String)
	assert.Equal(t, "collection", fields[1].Key)
	assert.Equal(t, "docs", fields[1].String)
}

func TestFromContext_Fallback(t *testing.T) {
	logger := FromContext(context.Background())
	require.NotNil(t, logger)
	// Nop logger must be safe to use.
	logger.Info(context.Background(), "noop")
}

func TestFromContext_RoundTrip(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)

	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
}
