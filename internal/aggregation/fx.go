package aggregation

import "go.uber.org/fx"

var Module = fx.Module("aggregation",
	fx.Provide(New),
)
