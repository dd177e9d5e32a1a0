package config

import "go.uber.org/fx"

// Module wires application config and the hot-reloadable policy holder.
var Module = fx.Module("config",
	fx.Provide(
		Load,
		NewPolicyHolder,
	),
)
