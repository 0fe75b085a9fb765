package logger

import (
	"context"

	"incentive-controlplane/pkg/config"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Module = fx.Module("zap",
	fx.Provide(
		New,
	),
	fx.Invoke(WatchLevel),
)

type ConfigParams struct {
	fx.In
	Cfg *config.Config
}

// New builds the process logger. Production emits JSON with severity keys
// for the log pipeline; every other environment uses the console encoder.
// LOG_LEVEL overrides the default level of either and is re-read when the
// config file changes.
func New(p ConfigParams) (*zap.Logger, zap.AtomicLevel) {
	cfg := zap.NewDevelopmentConfig()
	if p.Cfg != nil && p.Cfg.AppEnv == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.StacktraceKey = "stacktrace"
		cfg.EncoderConfig.LevelKey = "severity"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.EncoderConfig.CallerKey = "caller"
		cfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		cfg.Encoding = "json"
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}
	}
	if p.Cfg != nil {
		SetLevel(cfg.Level, p.Cfg.LogLevel)
	}

	log := zap.Must(cfg.Build())
	if p.Cfg != nil {
		log = log.With(
			zap.String("env", p.Cfg.AppEnv),
			zap.String("service_name", p.Cfg.AppName),
			zap.String("version", p.Cfg.AppVersion),
		)
	}

	zap.ReplaceGlobals(log)

	return log, cfg.Level
}

// SetLevel applies raw to level. Empty or unknown names leave it unchanged.
func SetLevel(level zap.AtomicLevel, raw string) bool {
	if raw == "" {
		return false
	}
	lvl, err := zapcore.ParseLevel(raw)
	if err != nil {
		return false
	}
	if level.Level() != lvl {
		level.SetLevel(lvl)
	}
	return true
}

func WatchLevel(level zap.AtomicLevel) {
	config.Watch(func(c *config.Config) {
		if SetLevel(level, c.LogLevel) {
			zap.L().Info("log level updated", zap.String("level", level.String()))
		}
	})
}

// WithTrace returns l annotated with the trace and span ids carried by ctx.
func WithTrace(ctx context.Context, l *zap.Logger) *zap.Logger {
	if l == nil {
		l = zap.L()
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return l
	}
	return l.With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}
