package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Tenant rejects requests for a tenant other than the one in the token.
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.Param("tenant_id")
		if tenantID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "message": "tenant id required"})
			return
		}

		if c.GetString("role") != RoleAdmin && c.GetString("tenant_id") != tenantID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "token not valid for tenant"})
			return
		}

		c.Set("tenant_id", tenantID)
		c.Next()
	}
}

// AdminOnly allows only admin tokens through.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("role") != RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "admin role required"})
			return
		}
		c.Next()
	}
}
