package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	tierdomain "github.com/kluisz-ai/kanvas/internal/tier/domain"
)

func (s *Server) ListTiers(c *gin.Context) {
	activeOnly := strings.TrimSpace(c.Query("active")) == "true"
	resp, err := s.tierSvc.List(c.Request.Context(), activeOnly)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetTier(c *gin.Context) {
	resp, err := s.tierSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreateTier(c *gin.Context) {
	var req tierdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)

	resp, err := s.tierSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) UpdateTier(c *gin.Context) {
	var req tierdomain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.ID = c.Param("id")

	resp, err := s.tierSvc.Update(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteTier(c *gin.Context) {
	if err := s.tierSvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) ListTierOverrides(c *gin.Context) {
	resp, err := s.tierSvc.ListOverrides(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// ReplaceTierOverrides bulk-sets a tier's feature overrides. The resolver
// cache for every user on the tier is flushed before this returns.
func (s *Server) ReplaceTierOverrides(c *gin.Context) {
	var req map[string]map[string]any
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.tierSvc.ReplaceOverrides(c.Request.Context(), c.Param("id"), req); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.tierSvc.ListOverrides(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
