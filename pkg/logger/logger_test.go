package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/lasprep/pkg/errors"
)

func TestInitRejectsBadLevel(t *testing.T) {
	err := Init(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestInitReplacesLogger(t *testing.T) {
	require.NoError(t, Init(Config{Level: "debug", Encoding: "json"}))
	first := Get()
	require.NoError(t, Init(Config{Level: "warn", Encoding: "console"}))
	second := Get()

	assert.NotSame(t, first, second)
	assert.False(t, second.Core().Enabled(zapcore.InfoLevel))
}

func TestFromContextAddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	ctx := context.WithValue(context.Background(), RunIDKey, "run-1")
	ctx = context.WithValue(ctx, FileKey, "/data/a.las")

	FromContext(ctx, base).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "run-1", fields["run_id"])
	assert.Equal(t, "/data/a.las", fields["file"])
	assert.NotContains(t, fields, "stage")
}

func TestErrorFieldsCarryTrace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	base.Error("clean failed", ErrorFields(errors.New(errors.ErrorTypeFileProcessing, "boom"))...)

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "file_processing", fields["error_type"])
	assert.Contains(t, fields["trace"], "TestErrorFieldsCarryTrace")
}
