package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	tenantdomain "github.com/kluisz-ai/kanvas/internal/tenant/domain"
	"github.com/kluisz-ai/kanvas/internal/tenantctx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	HeaderUserID = "X-User-ID"

	contextUserKey = "current_user"
)

// featureExemptPaths are never feature-gated; health and the feature
// endpoints themselves must stay reachable for any licensed user.
var featureExemptPaths = []string{
	"/health",
	"/metrics",
	"/api/features",
}

// routeFeatureMap declares which features a route subtree needs. Multiple
// keys are OR semantics: any one enabled grants access.
var routeFeatureMap = map[string][]string{
	"/api/integrations": {"integrations.slack", "integrations.webhooks"},
}

// Identity resolves the calling user from the X-User-ID header. Session and
// token mechanics live upstream; this service only trusts the gateway's
// header.
func (s *Server) Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		user, err := s.lookupUser(c, raw)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			AbortWithError(c, err)
			return
		}
		if !user.Active {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserKey, user)
		ctx := tenantctx.WithTenantID(c.Request.Context(), int64(user.TenantID))
		ctx = tenantctx.WithUserID(ctx, int64(user.ID))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) lookupUser(c *gin.Context, raw string) (*tenantdomain.User, error) {
	var user tenantdomain.User
	if err := s.db.WithContext(c.Request.Context()).
		First(&user, "id = ?", raw).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func currentUser(c *gin.Context) *tenantdomain.User {
	value, ok := c.Get(contextUserKey)
	if !ok {
		return nil
	}
	user, _ := value.(*tenantdomain.User)
	return user
}

func (s *Server) RequireTenantAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if !user.IsTenantAdmin && !user.IsPlatformSuperadmin {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

func (s *Server) RequireSuperadmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if !user.IsPlatformSuperadmin {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

// RequireFeature gates a route on the caller's resolved feature set. Any
// one of the given keys being enabled grants access. Resolver failures
// deny the request; the gate never fails open.
func (s *Server) RequireFeature(keys ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(keys) == 0 || isFeatureExempt(c.FullPath()) {
			c.Next()
			return
		}

		user := currentUser(c)
		if user == nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if user.IsPlatformSuperadmin {
			c.Next()
			return
		}

		for _, key := range keys {
			enabled, err := s.resolverSvc.IsFeatureEnabled(c.Request.Context(), user.ID.String(), key)
			if err != nil {
				s.log.Error("feature resolution failed, denying request",
					zap.String("user_id", user.ID.String()),
					zap.String("feature_key", key),
					zap.Error(err),
				)
				AbortWithError(c, err)
				return
			}
			if enabled {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": gin.H{
				"type":              "feature_not_enabled",
				"message":           "required feature is not enabled for this license",
				"required_features": keys,
			},
		})
	}
}

func isFeatureExempt(path string) bool {
	for _, exempt := range featureExemptPaths {
		if path == exempt || strings.HasPrefix(path, exempt+"/") {
			return true
		}
	}
	return false
}
