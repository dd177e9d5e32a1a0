package licensing

import (
	"github.com/kluisz-ai/kanvas/internal/licensing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("licensing.service",
	fx.Provide(service.New),
)
