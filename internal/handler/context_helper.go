package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/k12share/paperclip-api/internal/middleware"
	"github.com/k12share/paperclip-api/internal/models"
)

// claimsFromContext reads the JWT claims stored by the auth middleware.
// Returns nil on unauthenticated routes or when the middleware did not run.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, ok := c.Get(middleware.ContextUserKey)
	if !ok {
		return nil
	}
	if claims, ok := value.(*models.JWTClaims); ok {
		return claims
	}
	return nil
}
