package seller

import "go.uber.org/fx"

var Module = fx.Module("seller.module",
	fx.Provide(
		NewService,
		func(s *Service) Directory { return s },
	),
)
