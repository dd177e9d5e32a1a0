package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	registrydomain "github.com/kluisz-ai/kanvas/internal/registry/domain"
	tierdomain "github.com/kluisz-ai/kanvas/internal/tier/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type featureSeed struct {
	Key           string
	Name          string
	Category      string
	Type          registrydomain.FeatureType
	Enabled       bool
	Premium       bool
	DependsOn     []string
	ConflictsWith []string
	DisplayOrder  int
}

var defaultFeatures = []featureSeed{
	{Key: "models.openai_enabled", Name: "OpenAI Models", Category: "models", Type: registrydomain.FeatureTypeBoolean, Enabled: true, DisplayOrder: 10},
	{Key: "models.anthropic_enabled", Name: "Anthropic Models", Category: "models", Type: registrydomain.FeatureTypeBoolean, Premium: true, DisplayOrder: 20},
	{Key: "models.local_enabled", Name: "Local Models", Category: "models", Type: registrydomain.FeatureTypeBoolean, DisplayOrder: 30},
	{Key: "components.vector_store", Name: "Vector Store", Category: "components", Type: registrydomain.FeatureTypeBoolean, DisplayOrder: 40},
	{Key: "components.rag_pipeline", Name: "RAG Pipeline", Category: "components", Type: registrydomain.FeatureTypeBoolean, Premium: true, DependsOn: []string{"components.vector_store"}, DisplayOrder: 50},
	{Key: "components.web_search", Name: "Web Search", Category: "components", Type: registrydomain.FeatureTypeBoolean, Premium: true, DisplayOrder: 60},
	{Key: "integrations.slack", Name: "Slack Integration", Category: "integrations", Type: registrydomain.FeatureTypeBoolean, DisplayOrder: 70},
	{Key: "integrations.webhooks", Name: "Outbound Webhooks", Category: "integrations", Type: registrydomain.FeatureTypeBoolean, DisplayOrder: 80},
	{Key: "runtime.streaming_v1", Name: "Streaming Runtime", Category: "runtime", Type: registrydomain.FeatureTypeBoolean, Enabled: true, ConflictsWith: []string{"runtime.streaming_v2"}, DisplayOrder: 90},
	{Key: "runtime.streaming_v2", Name: "Streaming Runtime v2", Category: "runtime", Type: registrydomain.FeatureTypeBoolean, Premium: true, ConflictsWith: []string{"runtime.streaming_v1"}, DisplayOrder: 100},
}

type tierSeed struct {
	Name           string
	CreditsPerUSD  float64
	Multiplier     float64
	DefaultCredits int64
	MaxUsers       int64
	Enables        []string
}

var defaultTiers = []tierSeed{
	{Name: "basic", CreditsPerUSD: 100, Multiplier: 1.0, DefaultCredits: 1_000, MaxUsers: 5},
	{Name: "pro", CreditsPerUSD: 200, Multiplier: 0.95, DefaultCredits: 5_000, MaxUsers: 25,
		Enables: []string{"models.anthropic_enabled", "components.vector_store", "components.web_search", "integrations.slack"}},
	{Name: "enterprise", CreditsPerUSD: 300, Multiplier: 0.85, DefaultCredits: 20_000, MaxUsers: 250,
		Enables: []string{"models.anthropic_enabled", "models.local_enabled", "components.vector_store",
			"components.rag_pipeline", "components.web_search", "integrations.slack", "integrations.webhooks",
			"runtime.streaming_v2"}},
}

// EnsureDefaultCatalog seeds the feature registry and the starter tiers.
// Existing rows are left untouched, so running at every boot is safe.
func EnsureDefaultCatalog(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureFeatures(ctx, tx, node); err != nil {
			return err
		}
		return ensureTiers(ctx, tx, node)
	})
}

func ensureFeatures(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	for _, f := range defaultFeatures {
		var existing registrydomain.Feature
		err := tx.WithContext(ctx).Where("feature_key = ?", f.Key).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		feature := registrydomain.Feature{
			ID:           node.Generate(),
			Key:          f.Key,
			Name:         f.Name,
			Category:     f.Category,
			Type:         f.Type,
			DefaultValue: datatypes.JSONMap{"enabled": f.Enabled},
			IsPremium:    f.Premium,
			DisplayOrder: f.DisplayOrder,
			Active:       true,
		}
		if len(f.DependsOn) > 0 {
			feature.DependsOn = datatypes.NewJSONSlice(f.DependsOn)
		}
		if len(f.ConflictsWith) > 0 {
			feature.ConflictsWith = datatypes.NewJSONSlice(f.ConflictsWith)
		}
		if err := tx.WithContext(ctx).Create(&feature).Error; err != nil {
			return err
		}
	}
	return nil
}

func ensureTiers(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	for _, t := range defaultTiers {
		var existing tierdomain.LicenseTier
		err := tx.WithContext(ctx).Where("name = ?", t.Name).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		maxUsers := t.MaxUsers
		tier := tierdomain.LicenseTier{
			ID:                node.Generate(),
			Name:              t.Name,
			CreditsPerUSD:     t.CreditsPerUSD,
			PricingMultiplier: t.Multiplier,
			DefaultCredits:    t.DefaultCredits,
			MaxUsers:          &maxUsers,
			Active:            true,
		}
		if err := tx.WithContext(ctx).Create(&tier).Error; err != nil {
			return err
		}

		for _, key := range t.Enables {
			override := tierdomain.TierFeatureOverride{
				ID:           node.Generate(),
				TierID:       tier.ID,
				FeatureKey:   key,
				FeatureValue: datatypes.JSONMap{"enabled": true},
			}
			if err := tx.WithContext(ctx).Create(&override).Error; err != nil {
				return err
			}
		}
	}
	return nil
}
