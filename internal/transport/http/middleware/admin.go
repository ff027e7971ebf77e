package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ragdesk/internal/pkg/jwtutil"
	"ragdesk/internal/transport/http/response"
)

const ContextAdminKey = "admin_subject"

// AuthAdminJWT admits bearer tokens signed with secret that carry the admin role.
func AuthAdminJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "missing authorization header")
			c.Abort()
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid authorization scheme")
			c.Abort()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
		claims, err := jwtutil.ParseToken(secret, token)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}
		if claims.Role != jwtutil.RoleAdmin {
			response.Error(c, http.StatusForbidden, response.CodeForbidden, "admin role required")
			c.Abort()
			return
		}

		c.Set(ContextAdminKey, claims.Subject)
		c.Next()
	}
}
