package usagestats

import (
	"github.com/kluisz-ai/kanvas/internal/usagestats/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usagestats",
	fx.Provide(service.New),
)
