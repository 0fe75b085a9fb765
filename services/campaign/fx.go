package campaign

import (
	"incentive-controlplane/pkg/task"

	"go.uber.org/fx"
)

var Module = fx.Module("campaign.module",
	fx.Provide(
		NewRepository,
		NewMatcher,
		NewService,
		NewScheduler,
		fx.Annotate(
			NewTaskHandler,
			fx.As(new(task.Handler)),
			fx.ResultTags(`group:"task_handlers"`),
		),
	),
	fx.Invoke(StartScheduler),
)
