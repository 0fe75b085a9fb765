package validationjob

import (
	"incentive-controlplane/pkg/metrics"
	"incentive-controlplane/pkg/task"

	"go.uber.org/fx"
)

var Module = fx.Module("validationjob.module",
	fx.Provide(
		NewRepository,
		NewProcessor,
		NewService,
		fx.Annotate(
			NewTaskHandler,
			fx.As(new(task.Handler)),
			fx.ResultTags(`group:"task_handlers"`),
		),
	),
	fx.Invoke(registerMetrics),
)

func registerMetrics() {
	metrics.Register(Collectors()...)
}
