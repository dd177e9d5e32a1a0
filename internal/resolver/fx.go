package resolver

import (
	"github.com/kluisz-ai/kanvas/internal/resolver/service"
	"go.uber.org/fx"
)

var Module = fx.Module("resolver",
	fx.Provide(service.NewService),
)
