package tier

import (
	"github.com/kluisz-ai/kanvas/internal/tier/repository"
	"github.com/kluisz-ai/kanvas/internal/tier/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tier.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
