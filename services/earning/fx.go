package earning

import (
	"incentive-controlplane/pkg/metrics"
	"incentive-controlplane/services/kit"

	"go.uber.org/fx"
)

var Module = fx.Module("earning.module",
	fx.Provide(
		NewSellerAmountPolicy,
		NewDistributor,
		func(d *Distributor) kit.Distributor { return d },
		NewService,
	),
	fx.Invoke(registerMetrics),
)

func registerMetrics() {
	metrics.Register(Collectors()...)
}
