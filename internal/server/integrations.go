package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	integrationdomain "github.com/kluisz-ai/kanvas/internal/integrationcfg/domain"
	tierdomain "github.com/kluisz-ai/kanvas/internal/tier/domain"
)

func (s *Server) ListIntegrations(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.integrationSvc.List(c.Request.Context(), user.TenantID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetIntegration(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.integrationSvc.Get(c.Request.Context(), user.TenantID.String(), c.Param("key"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SetIntegration(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req integrationdomain.SetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.TenantID = user.TenantID.String()
	req.IntegrationKey = c.Param("key")

	resp, err := s.integrationSvc.Set(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteIntegration(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.integrationSvc.Delete(c.Request.Context(), user.TenantID.String(), c.Param("key")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) tierByID(c *gin.Context, id string) (*tierdomain.LicenseTier, error) {
	var tier tierdomain.LicenseTier
	if err := s.db.WithContext(c.Request.Context()).
		First(&tier, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &tier, nil
}
