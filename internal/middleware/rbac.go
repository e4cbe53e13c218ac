package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireStaff allows only staff users. Must run after Authenticator.Required.
// Identity-scoped roles are checked by the services themselves, since the
// identity is only known once the request body or path has been resolved.
func RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		if !user.IsStaff {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Staff access required"})
			return
		}
		c.Next()
	}
}
