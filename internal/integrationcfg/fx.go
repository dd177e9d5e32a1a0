package integrationcfg

import (
	"github.com/kluisz-ai/kanvas/internal/integrationcfg/service"
	"go.uber.org/fx"
)

var Module = fx.Module("integrationcfg",
	fx.Provide(service.New),
)
