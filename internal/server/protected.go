package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// VerifyEntitlement re-reads the subscription from the store, bypassing the cache.
func (s *Server) VerifyEntitlement(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	snapshot, err := s.entitlements.Verify(c.Request.Context(), user)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) Profile(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}
