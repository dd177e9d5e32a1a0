package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	OverdraftBlock         = "block"
	OverdraftAllowNegative = "allow_negative"

	TieBreakDisplayOrder = "display_order"
	TieBreakFeatureKey   = "feature_key"
)

// PolicyConfig carries the tunable business policy knobs. The file can be
// edited at runtime; updates are picked up without a restart.
type PolicyConfig struct {
	OverdraftMode      string `mapstructure:"overdraftMode"`
	ConflictTieBreak   string `mapstructure:"conflictTieBreak"`
	ResolverCacheTTL   int    `mapstructure:"resolverCacheTTLSeconds"`
	AggregationWindow  int    `mapstructure:"aggregationWindowMinutes"`
	AggregationEnabled bool   `mapstructure:"aggregationEnabled"`
	MaxTracesPerSync   int    `mapstructure:"maxTracesPerSync"`
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		OverdraftMode:      OverdraftBlock,
		ConflictTieBreak:   TieBreakDisplayOrder,
		ResolverCacheTTL:   300,
		AggregationWindow:  60,
		AggregationEnabled: true,
		MaxTracesPerSync:   10_000,
	}
}

func (c PolicyConfig) CacheTTL() time.Duration {
	return time.Duration(c.ResolverCacheTTL) * time.Second
}

func (c PolicyConfig) Window() time.Duration {
	return time.Duration(c.AggregationWindow) * time.Minute
}

type PolicyHolder struct {
	current atomic.Value // holds PolicyConfig
}

// NewStaticPolicyHolder wraps a fixed config, mainly for tests.
func NewStaticPolicyHolder(cfg PolicyConfig) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewPolicyHolder() (*PolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("policy")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/kanvas/config")
	v.AddConfigPath("/etc/kanvas")
	v.AddConfigPath(".")

	v.SetEnvPrefix("KANVAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPolicyConfig()
	v.SetDefault("policy.overdraftMode", defaults.OverdraftMode)
	v.SetDefault("policy.conflictTieBreak", defaults.ConflictTieBreak)
	v.SetDefault("policy.resolverCacheTTLSeconds", defaults.ResolverCacheTTL)
	v.SetDefault("policy.aggregationWindowMinutes", defaults.AggregationWindow)
	v.SetDefault("policy.aggregationEnabled", defaults.AggregationEnabled)
	v.SetDefault("policy.maxTracesPerSync", defaults.MaxTracesPerSync)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg PolicyConfig
	if err := v.UnmarshalKey("policy", &cfg); err != nil {
		return nil, err
	}
	if err := validatePolicyConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PolicyHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PolicyConfig
		if err := v.UnmarshalKey("policy", &updated); err != nil {
			log.Printf("[policy-config] reload failed: %v", err)
			return
		}
		if err := validatePolicyConfig(updated); err != nil {
			log.Printf("[policy-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[policy-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PolicyHolder) Get() PolicyConfig {
	return h.current.Load().(PolicyConfig)
}

func validatePolicyConfig(cfg PolicyConfig) error {
	switch cfg.OverdraftMode {
	case OverdraftBlock, OverdraftAllowNegative:
	default:
		return errors.New("policy.overdraftMode must be block or allow_negative")
	}
	switch cfg.ConflictTieBreak {
	case TieBreakDisplayOrder, TieBreakFeatureKey:
	default:
		return errors.New("policy.conflictTieBreak must be display_order or feature_key")
	}
	if cfg.ResolverCacheTTL <= 0 {
		return errors.New("policy.resolverCacheTTLSeconds must be positive")
	}
	if cfg.AggregationWindow <= 0 {
		return errors.New("policy.aggregationWindowMinutes must be positive")
	}
	return nil
}
