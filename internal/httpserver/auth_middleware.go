package httpserver

import (
	"github.com/gin-gonic/gin"

	"notifyhub/internal/handler"
	"notifyhub/internal/model"
	"notifyhub/pkg/util"
)

// AuthMiddleware 校验 Bearer token；allowQueryToken 时也接受 ?token=
// （浏览器的 EventSource / WebSocket 不能设置请求头）
func AuthMiddleware(jwtSecret string, allowQueryToken bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := util.ExtractToken(c.Request)
		if token == "" && allowQueryToken {
			token = c.Query("token")
		}
		if token == "" {
			handler.AbortWithError(c, &model.AuthorizationError{Reason: "missing token"})
			return
		}

		claims, err := util.ParseJWT(token, jwtSecret)
		if err != nil {
			handler.AbortWithError(c, &model.AuthorizationError{Reason: "invalid token"})
			return
		}

		// store user_id in context so handlers can use it
		c.Set(handler.ContextUserID, claims.UserID)
		c.Set(handler.ContextRole, claims.Role)

		c.Next()
	}
}
