package cache

import (
	"strings"
	"sync"
	"time"

	resolverdomain "github.com/kluisz-ai/kanvas/internal/resolver/domain"
)

const defaultResolverTTL = 5 * time.Minute

// FeatureResolverCache stores resolved feature sets per user. Tier edits
// need to flush every cached user of that tier, so the cache keeps a
// reverse index from tier to cached users.
type FeatureResolverCache interface {
	Get(userID string) (*resolverdomain.ResolvedFeatures, bool)
	Set(userID, tierID string, resolved *resolverdomain.ResolvedFeatures, ttl time.Duration)
	InvalidateUser(userID string)
	InvalidateTier(tierID string)
}

type featureResolverCache struct {
	users Cache[string, *resolverdomain.ResolvedFeatures]

	mu      sync.Mutex
	byTier  map[string]map[string]struct{}
	tierFor map[string]string
}

// NewFeatureResolverCache returns an in-memory cache for resolved feature sets.
func NewFeatureResolverCache() FeatureResolverCache {
	return &featureResolverCache{
		users:   NewTTLCache[string, *resolverdomain.ResolvedFeatures](),
		byTier:  make(map[string]map[string]struct{}),
		tierFor: make(map[string]string),
	}
}

func (c *featureResolverCache) Get(userID string) (*resolverdomain.ResolvedFeatures, bool) {
	return c.users.Get(cacheKey(userID))
}

func (c *featureResolverCache) Set(userID, tierID string, resolved *resolverdomain.ResolvedFeatures, ttl time.Duration) {
	if resolved == nil {
		return
	}
	if ttl <= 0 {
		ttl = defaultResolverTTL
	}
	key := cacheKey(userID)
	tier := cacheKey(tierID)

	c.mu.Lock()
	if prev, ok := c.tierFor[key]; ok && prev != tier {
		delete(c.byTier[prev], key)
	}
	if tier != "" {
		if c.byTier[tier] == nil {
			c.byTier[tier] = make(map[string]struct{})
		}
		c.byTier[tier][key] = struct{}{}
	}
	c.tierFor[key] = tier
	c.mu.Unlock()

	c.users.Set(key, resolved, ttl)
}

func (c *featureResolverCache) InvalidateUser(userID string) {
	key := cacheKey(userID)
	c.users.Delete(key)

	c.mu.Lock()
	if tier, ok := c.tierFor[key]; ok {
		delete(c.byTier[tier], key)
		delete(c.tierFor, key)
	}
	c.mu.Unlock()
}

func (c *featureResolverCache) InvalidateTier(tierID string) {
	tier := cacheKey(tierID)

	c.mu.Lock()
	users := c.byTier[tier]
	delete(c.byTier, tier)
	keys := make([]string, 0, len(users))
	for key := range users {
		delete(c.tierFor, key)
		keys = append(keys, key)
	}
	c.mu.Unlock()

	for _, key := range keys {
		c.users.Delete(key)
	}
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
