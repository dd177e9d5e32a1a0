package migration

import (
	"errors"

	integrationdomain "github.com/kluisz-ai/kanvas/internal/integrationcfg/domain"
	ledgerdomain "github.com/kluisz-ai/kanvas/internal/ledger/domain"
	licensingdomain "github.com/kluisz-ai/kanvas/internal/licensing/domain"
	registrydomain "github.com/kluisz-ai/kanvas/internal/registry/domain"
	tenantdomain "github.com/kluisz-ai/kanvas/internal/tenant/domain"
	tierdomain "github.com/kluisz-ai/kanvas/internal/tier/domain"
	usagedomain "github.com/kluisz-ai/kanvas/internal/usagestats/domain"
	"gorm.io/gorm"
)

// RunMigrations creates the core tables on startup so local and
// self-hosted installs work out of the box.
func RunMigrations(db *gorm.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	return db.AutoMigrate(
		&registrydomain.Feature{},
		&tierdomain.LicenseTier{},
		&tierdomain.TierFeatureOverride{},
		&tenantdomain.Tenant{},
		&tenantdomain.User{},
		&licensingdomain.LicensePool{},
		&ledgerdomain.CreditTransaction{},
		&usagedomain.TenantUsageStats{},
		&usagedomain.UserUsageStats{},
		&integrationdomain.TenantIntegrationConfig{},
	)
}
