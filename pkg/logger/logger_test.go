package logger

import (
	"context"
	"testing"

	"incentive-controlplane/pkg/config"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_LogLevel(t *testing.T) {
	prev := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	log, level := New(ConfigParams{Cfg: &config.Config{AppEnv: "test", LogLevel: "warn"}})
	require.False(t, log.Core().Enabled(zapcore.InfoLevel))
	require.True(t, log.Core().Enabled(zapcore.WarnLevel))
	require.Same(t, log, zap.L())

	require.False(t, SetLevel(level, "loud"))
	require.Equal(t, zapcore.WarnLevel, level.Level())
	require.True(t, SetLevel(level, "debug"))
	require.True(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestWithTrace(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	WithTrace(context.Background(), base).Info("no span")

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02},
		SpanID:     trace.SpanID{0x03},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	WithTrace(ctx, base).Info("with span")

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Empty(t, entries[0].ContextMap())
	require.Equal(t, sc.TraceID().String(), entries[1].ContextMap()["trace_id"])
	require.Equal(t, sc.SpanID().String(), entries[1].ContextMap()["span_id"])
}
