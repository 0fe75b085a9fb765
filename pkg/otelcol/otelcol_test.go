package otelcol

import (
	"context"
	"testing"

	"incentive-controlplane/pkg/config"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestProvideTrace(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{AppName: "incentive-engine", AppEnv: "test"}

	exp := tracetest.NewInMemoryExporter()
	tp := ProvideTrace(exp, trace.WithResource(Resource(cfg)))
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	_, span := tp.Tracer("test").Start(ctx, "validationjob.Run")
	span.End()
	require.NoError(t, tp.ForceFlush(ctx))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "validationjob.Run", spans[0].Name)

	name, ok := spans[0].Resource.Set().Value(attribute.Key("service.name"))
	require.True(t, ok)
	require.Equal(t, "incentive-engine", name.AsString())
}

func TestNewExporter_UnknownProtocol(t *testing.T) {
	cfg := &config.Config{}
	cfg.Observability.Tracing.Protocol = "kafka"

	_, err := NewExporter(cfg)
	require.ErrorContains(t, err, "kafka")
}

func TestRegister_Disabled(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	require.NoError(t, Register(lc, &config.Config{}))
	lc.RequireStart().RequireStop()
}
