package registry

import (
	"github.com/kluisz-ai/kanvas/internal/registry/repository"
	"github.com/kluisz-ai/kanvas/internal/registry/service"
	"go.uber.org/fx"
)

var Module = fx.Module("registry.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
