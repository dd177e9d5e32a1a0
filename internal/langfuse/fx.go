package langfuse

import "go.uber.org/fx"

var Module = fx.Module("langfuse.client",
	fx.Provide(
		fx.Annotate(NewClient, fx.As(new(Source))),
	),
)
