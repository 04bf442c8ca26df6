package middlewares

import (
	"github.com/gin-gonic/gin"

	"github.com/castmatch/castmatch-server/internal/utils/platformerrors"
)

// RequireAdmin ensures the authenticated principal carries the admin role.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			platformerrors.WriteUnauthorized(c, "Authentication required")
			return
		}
		if !principal.IsAdmin() {
			platformerrors.WriteForbidden(c, "Admin access required")
			return
		}
		c.Next()
	}
}
