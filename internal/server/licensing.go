package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/kluisz-ai/kanvas/internal/ledger/domain"
	licensingdomain "github.com/kluisz-ai/kanvas/internal/licensing/domain"
)

func (s *Server) GetPools(c *gin.Context) {
	resp, err := s.licensingSvc.GetPools(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SetPool(c *gin.Context) {
	var req licensingdomain.SetPoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.TenantID = c.Param("id")
	req.TierID = c.Param("tierId")
	req.ActorID = actorID(c)

	resp, err := s.licensingSvc.SetPool(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AssignLicense(c *gin.Context) {
	var req licensingdomain.AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.ActorID = actorID(c)

	resp, err := s.licensingSvc.Assign(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UnassignLicense(c *gin.Context) {
	var req licensingdomain.UnassignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.ActorID = actorID(c)

	resp, err := s.licensingSvc.Unassign(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpgradeLicense(c *gin.Context) {
	var req licensingdomain.UpgradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.ActorID = actorID(c)

	resp, err := s.licensingSvc.Upgrade(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AddCredits(c *gin.Context) {
	var req licensingdomain.AddCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.ActorID = actorID(c)

	resp, err := s.licensingSvc.AddCredits(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeductCredits(c *gin.Context) {
	var req licensingdomain.DeductCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.licensingSvc.DeductCredits(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListTransactions(c *gin.Context) {
	req := ledgerdomain.ListRequest{
		UserID:   strings.TrimSpace(c.Query("user_id")),
		TenantID: strings.TrimSpace(c.Query("tenant_id")),
	}
	if raw := strings.TrimSpace(c.Query("type")); raw != "" {
		t := ledgerdomain.TransactionType(raw)
		req.Type = &t
	}
	if raw := strings.TrimSpace(c.Query("from")); raw != "" {
		if from, err := time.Parse(time.RFC3339, raw); err == nil {
			req.From = &from
		}
	}
	if raw := strings.TrimSpace(c.Query("to")); raw != "" {
		if to, err := time.Parse(time.RFC3339, raw); err == nil {
			req.To = &to
		}
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			req.Limit = limit
		}
	}

	resp, err := s.ledgerSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func actorID(c *gin.Context) string {
	if user := currentUser(c); user != nil {
		return user.ID.String()
	}
	return ""
}
