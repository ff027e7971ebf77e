package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ragdesk/internal/transport/http/response"
)

const (
	HeaderTenantKey  = "X-Tenant-Key"
	ContextTenantKey = "tenant_key"
)

// TenantKey requires a tenant key from the X-Tenant-Key header, or the
// tenant_key query or form field. Length is checked by the services.
func TenantKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderTenantKey))
		if key == "" {
			key = strings.TrimSpace(c.Query("tenant_key"))
		}
		if key == "" && strings.HasPrefix(c.ContentType(), "multipart/") {
			key = strings.TrimSpace(c.PostForm("tenant_key"))
		}
		if key == "" {
			response.Error(c, http.StatusUnauthorized, response.CodeInvalidTenantKey, "missing tenant key")
			c.Abort()
			return
		}
		c.Set(ContextTenantKey, key)
		c.Next()
	}
}

func TenantKeyFrom(c *gin.Context) string {
	return c.GetString(ContextTenantKey)
}
