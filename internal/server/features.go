package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	registrydomain "github.com/kluisz-ai/kanvas/internal/registry/domain"
)

func (s *Server) ResolveFeatures(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resolved, err := s.resolverSvc.ResolveForUser(c.Request.Context(), user.ID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resolved})
}

func (s *Server) CheckFeature(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	key := strings.TrimSpace(c.Param("key"))
	enabled, err := s.resolverSvc.IsFeatureEnabled(c.Request.Context(), user.ID.String(), key)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	value, known, err := s.resolverSvc.GetFeatureValue(c.Request.Context(), user.ID.String(), key)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"feature_key": key,
		"enabled":     enabled,
		"known":       known,
		"value":       value,
	})
}

func (s *Server) ListRegistryFeatures(c *gin.Context) {
	req := registrydomain.ListRequest{
		Category:    strings.TrimSpace(c.Query("category")),
		Subcategory: strings.TrimSpace(c.Query("subcategory")),
		SortBy:      c.Query("sort_by"),
		OrderBy:     c.Query("order_by"),
	}
	if active := strings.TrimSpace(c.Query("active")); active != "" {
		v := active == "true"
		req.Active = &v
	}
	if premium := strings.TrimSpace(c.Query("premium")); premium != "" {
		v := premium == "true"
		req.Premium = &v
	}

	resp, err := s.registrySvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetRegistryFeature(c *gin.Context) {
	resp, err := s.registrySvc.GetByKey(c.Request.Context(), c.Param("key"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreateRegistryFeature(c *gin.Context) {
	var req registrydomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.registrySvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) UpdateRegistryFeature(c *gin.Context) {
	var req registrydomain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.Key = c.Param("key")

	resp, err := s.registrySvc.Update(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeprecateRegistryFeature(c *gin.Context) {
	var req struct {
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.registrySvc.Deprecate(c.Request.Context(), c.Param("key"), req.Message)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteRegistryFeature(c *gin.Context) {
	if err := s.registrySvc.Delete(c.Request.Context(), c.Param("key")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
