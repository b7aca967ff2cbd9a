package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"notifyhub/internal/handler"
	"notifyhub/internal/model"
	"notifyhub/pkg/otel"
	"notifyhub/pkg/rbac"
)

// ReadinessCheck readyz 调用，通常是存储的 Ping
type ReadinessCheck func(ctx context.Context) error

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	log *zap.Logger,
	notificationHandler *handler.NotificationHandler,
	streamHandler *handler.StreamHandler,
	jwtSecret string,
	ready ReadinessCheck,
) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), otel.GinMiddleware(), MetricsMiddleware(), RequestLogger(log))

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
			defer cancel()

			if err := ready(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1/notifications")

	api := v1.Group("")
	api.Use(AuthMiddleware(jwtSecret, false))
	{
		api.GET("", notificationHandler.List)
		api.POST("/read", notificationHandler.MarkRead)
		api.POST("", RequirePermission(rbac.PermissionEmit), notificationHandler.Emit)
	}

	live := v1.Group("")
	live.Use(AuthMiddleware(jwtSecret, true))
	{
		live.GET("/stream", streamHandler.Stream)
		live.GET("/ws", streamHandler.WebSocket)
	}

	r.NoRoute(func(c *gin.Context) {
		handler.AbortWithError(c, &model.NotFoundError{Resource: "route", ID: c.Request.URL.Path})
	})

	return &Router{Engine: r}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}
