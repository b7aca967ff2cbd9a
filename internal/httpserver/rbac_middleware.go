package httpserver

import (
	"github.com/gin-gonic/gin"

	"notifyhub/internal/handler"
	"notifyhub/pkg/rbac"
)

// RequirePermission 中间件：要求用户具有指定权限
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, role, err := handler.Caller(c)
		if err != nil {
			handler.AbortWithError(c, err)
			return
		}

		if err := rbac.CheckPermission(userID, role, permission); err != nil {
			handler.AbortWithError(c, err)
			return
		}

		c.Next()
	}
}
