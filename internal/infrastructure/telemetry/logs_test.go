package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerProvider_Disabled(t *testing.T) {
	lp, err := NewLoggerProvider(context.Background(), LogsConfig{Enabled: false}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, lp.IsEnabled())
	assert.NoError(t, lp.ForceFlush(context.Background()))
	assert.NoError(t, lp.Shutdown(context.Background()))
	assert.NoError(t, lp.Shutdown(context.Background()))
}

func TestLoggerProvider_ZapCore(t *testing.T) {
	t.Run("disabled provider yields nop core", func(t *testing.T) {
		lp := &LoggerProvider{config: LogsConfig{Enabled: false}}
		core := lp.ZapCore(zapcore.InfoLevel)
		assert.False(t, core.Enabled(zapcore.ErrorLevel))
	})

	t.Run("nil provider yields nop core", func(t *testing.T) {
		var lp *LoggerProvider
		assert.False(t, lp.ZapCore(zapcore.InfoLevel).Enabled(zapcore.ErrorLevel))
	})

	t.Run("enabled provider filters by level", func(t *testing.T) {
		provider := sdklog.NewLoggerProvider()
		t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
		lp := &LoggerProvider{
			provider: provider,
			logger:   zap.NewNop(),
			config:   LogsConfig{Enabled: true, ServiceName: "compliance-sync"},
		}

		core := lp.ZapCore(zapcore.WarnLevel)
		assert.False(t, core.Enabled(zapcore.InfoLevel))
		assert.True(t, core.Enabled(zapcore.ErrorLevel))
	})
}

func TestLevelFilterCore(t *testing.T) {
	inner, logs := observer.New(zapcore.DebugLevel)
	core := &levelFilterCore{Core: inner, minLevel: zapcore.WarnLevel}

	logger := zap.New(core).With(zap.String("tenant_id", "t1"))
	logger.Info("dropped")
	logger.Warn("kept")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "kept", entry.Message)
	assert.Equal(t, "t1", entry.ContextMap()["tenant_id"])
}
