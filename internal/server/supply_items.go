package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListSupplyItems(c *gin.Context) {
	activeOnly, err := parseOptionalBool(c.Query("active_only"))
	if err != nil {
		AbortWithError(c, newValidationError("active_only", "invalid_active_only", "invalid active_only"))
		return
	}

	resp, err := s.catalogSvc.List(c.Request.Context(), activeOnly == nil || *activeOnly)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
