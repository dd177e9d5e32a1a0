package seed

import (
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	registrydomain "github.com/kluisz-ai/kanvas/internal/registry/domain"
	tierdomain "github.com/kluisz-ai/kanvas/internal/tier/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestEnsureDefaultCatalogIdempotent(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&registrydomain.Feature{},
		&tierdomain.LicenseTier{},
		&tierdomain.TierFeatureOverride{},
	))

	require.NoError(t, EnsureDefaultCatalog(gdb))

	var features, tiers, overrides int64
	require.NoError(t, gdb.Model(&registrydomain.Feature{}).Count(&features).Error)
	require.NoError(t, gdb.Model(&tierdomain.LicenseTier{}).Count(&tiers).Error)
	require.NoError(t, gdb.Model(&tierdomain.TierFeatureOverride{}).Count(&overrides).Error)
	assert.Equal(t, int64(len(defaultFeatures)), features)
	assert.Equal(t, int64(len(defaultTiers)), tiers)
	assert.Greater(t, overrides, int64(0))

	// A second run must not duplicate anything.
	require.NoError(t, EnsureDefaultCatalog(gdb))

	var features2, tiers2, overrides2 int64
	require.NoError(t, gdb.Model(&registrydomain.Feature{}).Count(&features2).Error)
	require.NoError(t, gdb.Model(&tierdomain.LicenseTier{}).Count(&tiers2).Error)
	require.NoError(t, gdb.Model(&tierdomain.TierFeatureOverride{}).Count(&overrides2).Error)
	assert.Equal(t, features, features2)
	assert.Equal(t, tiers, tiers2)
	assert.Equal(t, overrides, overrides2)
}

func TestSeededCatalogShape(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&registrydomain.Feature{},
		&tierdomain.LicenseTier{},
		&tierdomain.TierFeatureOverride{},
	))
	require.NoError(t, EnsureDefaultCatalog(gdb))

	var rag registrydomain.Feature
	require.NoError(t, gdb.Where("feature_key = ?", "components.rag_pipeline").First(&rag).Error)
	assert.Contains(t, []string(rag.DependsOn), "components.vector_store")

	var v1 registrydomain.Feature
	require.NoError(t, gdb.Where("feature_key = ?", "runtime.streaming_v1").First(&v1).Error)
	assert.Contains(t, []string(v1.ConflictsWith), "runtime.streaming_v2")

	var enterprise tierdomain.LicenseTier
	require.NoError(t, gdb.Where("name = ?", "enterprise").First(&enterprise).Error)
	assert.Less(t, enterprise.PricingMultiplier, 1.0)
	assert.Greater(t, enterprise.DefaultCredits, int64(0))
}
