package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/kluisz-ai/kanvas/internal/config"
	integrationdomain "github.com/kluisz-ai/kanvas/internal/integrationcfg/domain"
	ledgerdomain "github.com/kluisz-ai/kanvas/internal/ledger/domain"
	licensingdomain "github.com/kluisz-ai/kanvas/internal/licensing/domain"
	pricingdomain "github.com/kluisz-ai/kanvas/internal/pricing/domain"
	registrydomain "github.com/kluisz-ai/kanvas/internal/registry/domain"
	resolverdomain "github.com/kluisz-ai/kanvas/internal/resolver/domain"
	tenantdomain "github.com/kluisz-ai/kanvas/internal/tenant/domain"
	tierdomain "github.com/kluisz-ai/kanvas/internal/tier/domain"
	usagedomain "github.com/kluisz-ai/kanvas/internal/usagestats/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server exited", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node

	registrySvc    registrydomain.Service
	tierSvc        tierdomain.Service
	tenantSvc      tenantdomain.Service
	licensingSvc   licensingdomain.Service
	ledgerSvc      ledgerdomain.Service
	resolverSvc    resolverdomain.Service
	pricingSvc     pricingdomain.Service
	statsSvc       usagedomain.Service
	integrationSvc integrationdomain.Service
}

type ServerParams struct {
	fx.In

	Gin   *gin.Engine
	Cfg   config.Config
	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node

	RegistrySvc    registrydomain.Service
	TierSvc        tierdomain.Service
	TenantSvc      tenantdomain.Service
	LicensingSvc   licensingdomain.Service
	LedgerSvc      ledgerdomain.Service
	ResolverSvc    resolverdomain.Service
	PricingSvc     pricingdomain.Service
	StatsSvc       usagedomain.Service
	IntegrationSvc integrationdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		db:             p.DB,
		log:            p.Log.Named("http.server"),
		genID:          p.GenID,
		registrySvc:    p.RegistrySvc,
		tierSvc:        p.TierSvc,
		tenantSvc:      p.TenantSvc,
		licensingSvc:   p.LicensingSvc,
		ledgerSvc:      p.LedgerSvc,
		resolverSvc:    p.ResolverSvc,
		pricingSvc:     p.PricingSvc,
		statsSvc:       p.StatsSvc,
		integrationSvc: p.IntegrationSvc,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerAnalyticsRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.Identity())

	api.GET("/me", s.Me)
	api.GET("/features", s.ResolveFeatures)
	api.GET("/features/check/:key", s.CheckFeature)

	integrations := api.Group("/integrations",
		s.RequireTenantAdmin(),
		s.RequireFeature(routeFeatureMap["/api/integrations"]...),
	)
	{
		integrations.GET("", s.ListIntegrations)
		integrations.GET("/:key", s.GetIntegration)
		integrations.PUT("/:key", s.SetIntegration)
		integrations.DELETE("/:key", s.DeleteIntegration)
	}
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.Identity(), s.RequireTenantAdmin())

	admin.GET("/tenants/:id/pools", s.GetPools)
	admin.PUT("/tenants/:id/pools/:tierId", s.SetPool)
	admin.POST("/licenses/assign", s.AssignLicense)
	admin.POST("/licenses/unassign", s.UnassignLicense)
	admin.POST("/licenses/upgrade", s.UpgradeLicense)
	admin.POST("/credits/add", s.AddCredits)
	admin.POST("/credits/deduct", s.DeductCredits)
	admin.GET("/transactions", s.ListTransactions)

	admin.GET("/tenants/:id", s.GetTenant)
	admin.PATCH("/tenants/:id", s.UpdateTenant)
	admin.GET("/tenants/:id/users", s.ListUsers)
	admin.POST("/tenants/:id/users", s.CreateUser)
	admin.GET("/users/:id", s.GetUser)
	admin.DELETE("/users/:id", s.DeactivateUser)

	admin.GET("/tiers", s.ListTiers)
	admin.GET("/tiers/:id", s.GetTier)
	admin.GET("/tiers/:id/features", s.ListTierOverrides)

	admin.POST("/sync-stats", s.SyncStats)
	admin.POST("/pricing/preview", s.PricingPreview)

	// Platform-wide catalog and tier management.
	super := s.engine.Group("/admin", s.Identity(), s.RequireSuperadmin())

	super.GET("/tenants", s.ListTenants)
	super.POST("/tenants", s.CreateTenant)

	super.POST("/tiers", s.CreateTier)
	super.PATCH("/tiers/:id", s.UpdateTier)
	super.DELETE("/tiers/:id", s.DeleteTier)
	super.PUT("/tiers/:id/features", s.ReplaceTierOverrides)

	super.GET("/features", s.ListRegistryFeatures)
	super.GET("/features/:key", s.GetRegistryFeature)
	super.POST("/features", s.CreateRegistryFeature)
	super.PATCH("/features/:key", s.UpdateRegistryFeature)
	super.POST("/features/:key/deprecate", s.DeprecateRegistryFeature)
	super.DELETE("/features/:key", s.DeleteRegistryFeature)
}

func (s *Server) registerAnalyticsRoutes() {
	analytics := s.engine.Group("/analytics", s.Identity())

	analytics.GET("/tenant/:id/dashboard", s.RequireTenantAdmin(), s.TenantDashboard)
	analytics.GET("/user/dashboard", s.UserDashboard)
}
