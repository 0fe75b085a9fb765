package normalize

import "go.uber.org/fx"

var Module = fx.Module("normalize",
	fx.Provide(NewNormalizer),
)
