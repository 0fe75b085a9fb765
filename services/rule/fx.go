package rule

import (
	"incentive-controlplane/pkg/metrics"

	"go.uber.org/fx"
)

var Module = fx.Module("rule.evaluator",
	fx.Provide(NewEvaluator),
	fx.Invoke(registerMetrics),
)

func registerMetrics() {
	metrics.Register(Collectors()...)
}
