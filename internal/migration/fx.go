package migration

import (
	"github.com/kluisz-ai/kanvas/internal/config"
	"github.com/kluisz-ai/kanvas/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if err := RunMigrations(conn); err != nil {
			return err
		}

		if cfg.SeedDefaults {
			return seed.EnsureDefaultCatalog(conn)
		}
		return nil
	}),
)
