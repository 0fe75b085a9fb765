package otelcol

import (
	"context"
	"fmt"
	"strings"

	"incentive-controlplane/pkg/config"
	"incentive-controlplane/pkg/otelcol/exporters"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module installs the global tracer provider when tracing is enabled. Spans
// started before that go to the no-op provider.
var Module = fx.Module("otelcol", fx.Invoke(Register))

func Resource(cfg *config.Config) *resource.Resource {
	r, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.AppName),
		attribute.String("service.version", cfg.AppVersion),
		attribute.String("deployment.environment", cfg.AppEnv),
	))
	if err != nil {
		return resource.Default()
	}
	return r
}

func defaultTraceProviderOption() []trace.TracerProviderOption {
	return []trace.TracerProviderOption{
		trace.WithResource(resource.Default()),
	}
}

func ProvideTrace(exporter trace.SpanExporter, opts ...trace.TracerProviderOption) *trace.TracerProvider {
	if len(opts) == 0 {
		opts = defaultTraceProviderOption()
	}

	opts = append(opts, trace.WithBatcher(exporter))

	return trace.NewTracerProvider(opts...)
}

func NewExporter(cfg *config.Config) (trace.SpanExporter, error) {
	switch p := strings.ToLower(strings.TrimSpace(cfg.Observability.Tracing.Protocol)); p {
	case "", "grpc":
		return exporters.ProvideGrpc(cfg)
	case "http":
		return exporters.ProvideHttp(cfg)
	default:
		return nil, fmt.Errorf("unknown tracing protocol %q", p)
	}
}

func Register(lc fx.Lifecycle, cfg *config.Config) error {
	tc := cfg.Observability.Tracing
	if !tc.Enabled {
		return nil
	}

	exporter, err := NewExporter(cfg)
	if err != nil {
		return err
	}

	ratio := tc.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	tp := ProvideTrace(exporter,
		trace.WithResource(Resource(cfg)),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	zap.L().Info("tracing enabled",
		zap.String("protocol", tc.Protocol),
		zap.String("endpoint", tc.Endpoint),
		zap.Float64("sample_ratio", ratio))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
	return nil
}
