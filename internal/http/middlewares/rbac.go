package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireRole must run after RequireAuth so the identity keys are set.
func (m *AuthMiddleware) RequireRole(required ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(required))

	for _, role := range required {
		allowed[role] = struct{}{}
	}

	return func(c *gin.Context) {
		role, ok := RoleFromContext(c)

		if !ok || role == "" {
			abortWithError(c, http.StatusUnauthorized, "unauthorized", "Missing identity context")
			return
		}

		if _, ok := allowed[role]; !ok {
			abortWithError(c, http.StatusForbidden, "forbidden", "Insufficient role")
			return
		}
		c.Next()
	}
}
