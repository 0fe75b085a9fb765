package kit

import (
	"incentive-controlplane/pkg/metrics"

	"go.uber.org/fx"
)

var Module = fx.Module("kit.module",
	fx.Provide(
		NewRepository,
		NewTracker,
		NewService,
	),
	fx.Invoke(registerMetrics),
)

func registerMetrics() {
	metrics.Register(Collectors()...)
}
