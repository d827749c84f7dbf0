package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aura-vod/backend/internal/auth"
	"github.com/aura-vod/backend/pkg/response"
)

const (
	// ContextOperator is the key for the token subject in gin context.
	ContextOperator = "operator"
	// ContextRole is the key for the operator role in gin context.
	ContextRole = "operator_role"
)

// JWT returns a middleware that validates a bearer token and sets operator claims in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(strings.TrimSpace(token))
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextOperator, claims.Operator())
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// Protect returns the guard chain for mutating routes: JWT then RequireRole. A nil service means auth is
// disabled and the chain is empty.
func Protect(jwtService *auth.JWTService, roles ...string) []gin.HandlerFunc {
	if jwtService == nil {
		return nil
	}
	return []gin.HandlerFunc{JWT(jwtService), RequireRole(roles...)}
}
