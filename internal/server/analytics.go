package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kluisz-ai/kanvas/internal/langfuse"
	usagedomain "github.com/kluisz-ai/kanvas/internal/usagestats/domain"
)

func (s *Server) TenantDashboard(c *gin.Context) {
	tenantID := c.Param("id")

	// Tenant admins only see their own tenant; superadmins see any.
	user := currentUser(c)
	if user != nil && !user.IsPlatformSuperadmin && user.TenantID.String() != tenantID {
		AbortWithError(c, ErrForbidden)
		return
	}

	resp, err := s.statsSvc.GetTenantDashboard(c.Request.Context(), tenantID, queryLimit(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UserDashboard(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.statsSvc.GetUserDashboard(c.Request.Context(), user.ID.String(), queryLimit(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type syncStatsRequest struct {
	TenantID    string    `json:"tenant_id"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

func (s *Server) SyncStats(c *gin.Context) {
	var req syncStatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.statsSvc.SyncPeriod(c.Request.Context(), usagedomain.SyncRequest{
		TenantID:    strings.TrimSpace(req.TenantID),
		PeriodStart: req.PeriodStart,
		PeriodEnd:   req.PeriodEnd,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type pricingPreviewRequest struct {
	TierID string         `json:"tier_id"`
	Trace  langfuse.Trace `json:"trace"`
}

// PricingPreview prices a trace against a tier without committing any
// deduction, so operators can sanity-check multiplier and clamp settings.
func (s *Server) PricingPreview(c *gin.Context) {
	var req pricingPreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	tier, err := s.tierByID(c, req.TierID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	charge := s.pricingSvc.ProcessTrace(req.Trace, tier)
	c.JSON(http.StatusOK, gin.H{"data": charge})
}

func queryLimit(c *gin.Context) int {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}
