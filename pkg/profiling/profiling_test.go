package profiling

import (
	"testing"

	"incentive-controlplane/pkg/config"

	"github.com/grafana/pyroscope-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
)

func TestNewConfig(t *testing.T) {
	cfg := &config.Config{AppName: "incentive-engine", AppEnv: "staging"}
	cfg.Observability.Profiling.Addr = "http://pyroscope:4040"

	pc := NewConfig(cfg)
	require.Equal(t, "incentive-engine", pc.ApplicationName)
	require.Equal(t, "http://pyroscope:4040", pc.ServerAddress)
	require.Equal(t, "staging", pc.Tags["env"])
	require.Contains(t, pc.ProfileTypes, pyroscope.ProfileMutexDuration)
}

func TestProvideProfiling_Disabled(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	ProvideProfiling(lc, &config.Config{})
	lc.RequireStart().RequireStop()
}
