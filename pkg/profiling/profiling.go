package profiling

import (
	"context"

	"incentive-controlplane/pkg/config"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("profiling", fx.Invoke(ProvideProfiling))

func NewConfig(c *config.Config) pyroscope.Config {
	return pyroscope.Config{
		ApplicationName: c.AppName,
		ServerAddress:   c.Observability.Profiling.Addr,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
			// row workers contend on the kit and campaign locks
			pyroscope.ProfileMutexCount,
			pyroscope.ProfileMutexDuration,
		},
		Tags: map[string]string{
			"service_name": c.AppName,
			"env":          c.AppEnv,
		},
	}
}

// ProvideProfiling starts continuous profiling when enabled. A failure to
// reach the server is logged and the engine keeps running.
func ProvideProfiling(lc fx.Lifecycle, c *config.Config) {
	if !c.Observability.Profiling.Enabled {
		return
	}

	zap.L().Info("starting pyroscope", zap.String("app_name", c.AppName), zap.String("pyroscope_addr", c.Observability.Profiling.Addr))
	profiler, err := pyroscope.Start(NewConfig(c))
	if err != nil {
		zap.L().Error("failed to start pyroscope", zap.Error(err))
		return
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return profiler.Stop()
		},
	})
}
