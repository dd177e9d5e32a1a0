package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"github.com/kluisz-ai/kanvas/internal/cache"
	"github.com/kluisz-ai/kanvas/internal/clock"
	"github.com/kluisz-ai/kanvas/internal/config"
	"github.com/kluisz-ai/kanvas/internal/integrationcfg"
	"github.com/kluisz-ai/kanvas/internal/langfuse"
	"github.com/kluisz-ai/kanvas/internal/ledger"
	"github.com/kluisz-ai/kanvas/internal/licensing"
	"github.com/kluisz-ai/kanvas/internal/locks"
	"github.com/kluisz-ai/kanvas/internal/logger"
	"github.com/kluisz-ai/kanvas/internal/migration"
	"github.com/kluisz-ai/kanvas/internal/pricing"
	"github.com/kluisz-ai/kanvas/internal/registry"
	"github.com/kluisz-ai/kanvas/internal/resolver"
	"github.com/kluisz-ai/kanvas/internal/scheduler"
	"github.com/kluisz-ai/kanvas/internal/server"
	"github.com/kluisz-ai/kanvas/internal/tenant"
	"github.com/kluisz-ai/kanvas/internal/tier"
	"github.com/kluisz-ai/kanvas/internal/usagestats"
	"github.com/kluisz-ai/kanvas/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,
		locks.Module,
		migration.Module,

		registry.Module,
		tier.Module,
		tenant.Module,
		ledger.Module,
		licensing.Module,
		resolver.Module,
		pricing.Module,
		langfuse.Module,
		usagestats.Module,
		integrationcfg.Module,

		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		log.Fatalf("snowflake node init: %v", err)
	}
	return node
}
